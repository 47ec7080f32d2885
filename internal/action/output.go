package action

import "strings"

// Limits caps captured command output.
type Limits struct {
	MaxLines int
	MaxBytes int
}

// ApplyOutputLimits truncates text by line and byte limits. A byte cut
// never splits a UTF-8 sequence.
func ApplyOutputLimits(text string, limits Limits) (out string, truncatedLines bool, truncatedBytes bool) {
	if limits.MaxLines > 0 {
		lines := strings.Split(text, "\n")
		if len(lines) > limits.MaxLines {
			lines = lines[:limits.MaxLines]
			text = strings.Join(lines, "\n")
			truncatedLines = true
		}
	}

	if limits.MaxBytes > 0 && len(text) > limits.MaxBytes {
		text = strings.ToValidUTF8(text[:limits.MaxBytes], "")
		truncatedBytes = true
	}
	return text, truncatedLines, truncatedBytes
}
