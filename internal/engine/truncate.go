package engine

import (
	"fmt"
	"strings"
)

const (
	maxToolOutputChars = 500
	maxToolOutputLines = 10
)

// truncateOutput caps tool output before it is echoed back into the
// conversation. Output within both limits passes through unchanged. Overly
// long output is cut by line count first, otherwise by character count, with
// an explicit marker so the model knows content is missing.
func truncateOutput(s string) string {
	lines := strings.Split(s, "\n")
	runes := []rune(s)
	if len(runes) <= maxToolOutputChars && len(lines) <= maxToolOutputLines {
		return s
	}

	if len(lines) > maxToolOutputLines {
		kept := strings.Join(lines[:maxToolOutputLines], "\n")
		return fmt.Sprintf("%s\n... (%d more lines)", kept, len(lines)-maxToolOutputLines)
	}

	return fmt.Sprintf("%s... (%d more chars)", string(runes[:maxToolOutputChars]), len(runes)-maxToolOutputChars)
}
