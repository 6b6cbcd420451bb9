package orchestrator

import (
	"fmt"
	"strings"
)

// smartTruncate cuts tool output over TruncateThreshold characters down
// to its head 60% and tail 20%, joined by a marker naming how many lines
// were dropped. Only the re-injected history is affected; tracing the
// untruncated result is the caller's job (runThroughSafetyPipeline traces
// before calling this).
func smartTruncate(text string) string {
	if len(text) <= TruncateThreshold {
		return text
	}
	headLen := int(float64(len(text)) * TruncateHeadRatio)
	tailLen := int(float64(len(text)) * TruncateTailRatio)
	droppedLines := strings.Count(text[headLen:len(text)-tailLen], "\n") + 1
	return fmt.Sprintf("%s\n\n[... %d lines truncated ...]\n\n%s", text[:headLen], droppedLines, text[len(text)-tailLen:])
}
