package classifier

import "strings"

// criticalKeywords mark model output that means the recording was not
// analysed correctly.
var criticalKeywords = []string{
	"error",
	"cancelled",
	"out of memory",
	"oom",
	"illegal memory",
	"segmentation fault",
	"fatal",
}

// ScanDiagnostics looks for a critical keyword in untyped model output.
// Matching is case-insensitive; "error" is ignored when the text contains
// "0 error", which runtimes print in summaries.
func ScanDiagnostics(text string) (keyword string, found bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, kw := range criticalKeywords {
		if !strings.Contains(lower, kw) {
			continue
		}
		if kw == "error" && strings.Contains(lower, "0 error") {
			continue
		}
		return kw, true
	}
	return "", false
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
