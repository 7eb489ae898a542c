package interaction

import (
	"strings"

	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

// Marker sets for the free-form text the devices emit. Matching is
// case-insensitive substring search; there is no protocol to parse.
var (
	confirmationMarkers = []string{"confirm", "proceed", "y/n"}
	startedMarkers      = []string{"download", "transfer", "%"}
	successMarkers      = []string{"success", "complete"}
	failureMarkers      = []string{"error", "fail"}
)

// IsConfirmationPrompt reports whether the output is asking the operator a
// yes/no question before it will continue.
func IsConfirmationPrompt(text string) bool {
	return containsAny(strings.ToLower(text), confirmationMarkers)
}

// ProgressSignal classifies one chunk of upgrade output. Each flag is
// detected independently; when a single chunk carries both success and
// failure markers, the monitoring loop checks Succeeded first, so success
// wins. That precedence is fixed here rather than left to scan order.
func ProgressSignal(text string) schema.Progress {
	lower := strings.ToLower(text)
	return schema.Progress{
		Started:   containsAny(lower, startedMarkers),
		Succeeded: containsAny(lower, successMarkers),
		Failed:    containsAny(lower, failureMarkers),
	}
}

func containsAny(lower string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
