package session

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Markers appended to partial responses.
const (
	CancelledMarker = "(cancelled by user)"
	ErrorMarker     = "(an error occurred)"
)

// AppendFooter adds the model, estimated tokens/sec and elapsed seconds to a
// finished response. Token count is approximated as characters / 4. Text that
// already carries a footer for model is returned unchanged.
func AppendFooter(text, model string, elapsed time.Duration) string {
	if text == "" || HasFooter(text, model) {
		return text
	}
	secs := elapsed.Seconds()
	tps := 0.0
	if secs > 0 {
		tps = float64(utf8.RuneCountInString(text)) / 4 / secs
	}
	return fmt.Sprintf("%s\n\n%s  \n%.1f tokens/sec  \n%.1f sec", text, model, tps, secs)
}

// HasFooter reports whether text already ends in a footer for model.
func HasFooter(text, model string) bool {
	return strings.Contains(text, "\n\n"+model+"  \n") && strings.HasSuffix(text, " sec")
}
