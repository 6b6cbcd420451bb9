package compress

import (
	"github.com/autoagent/core/internal/provider"
	tiktoken "github.com/pkoukk/tiktoken-go"
)

// AccurateCount returns a real tokenizer-based count for diagnostics and
// cost estimation; the compression threshold gate itself always runs on
// EstimateTokens' char/4 math. Falls back to the char/4 estimate if the
// tokenizer's vocabulary file is unavailable (e.g. no network access at
// first use, since tiktoken-go lazily downloads BPE ranks).
func AccurateCount(messages []provider.Message, encodingName string) int {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return EstimateTokens(messages)
	}
	total := 0
	for _, m := range messages {
		total += len(enc.Encode(m.Content, nil, nil))
		for _, tc := range m.ToolCalls {
			total += len(enc.Encode(tc.Name, nil, nil))
			total += len(enc.Encode(string(tc.Input), nil, nil))
		}
		for _, tr := range m.ToolResults {
			total += len(enc.Encode(tr.Content, nil, nil))
		}
	}
	return total
}
