package orchestrator

import (
	"strings"
	"testing"
)

func TestSmartTruncateLeavesShortTextUntouched(t *testing.T) {
	text := strings.Repeat("a", TruncateThreshold)
	if got := smartTruncate(text); got != text {
		t.Errorf("text at threshold should be untouched")
	}
}

func TestSmartTruncateSplitsHeadAndTail(t *testing.T) {
	text := strings.Repeat("x", 10000) + strings.Repeat("y", 10000)
	got := smartTruncate(text)

	if !strings.HasPrefix(got, strings.Repeat("x", 100)) {
		t.Errorf("truncated output does not start with the head")
	}
	if !strings.HasSuffix(got, strings.Repeat("y", 100)) {
		t.Errorf("truncated output does not end with the tail")
	}
	if !strings.Contains(got, "lines truncated") {
		t.Errorf("truncated output missing the drop-count marker")
	}
	if len(got) >= len(text) {
		t.Errorf("truncated output (%d) should be shorter than original (%d)", len(got), len(text))
	}
}
