// Package chunk splits outgoing channel text into ordered, length-bounded
// parts and reassembles them.
package chunk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MaxTotalLength is the transport budget of a single channel message.
	MaxTotalLength = 4096
	// SafetyMargin is reserved for part headers and channel decoration.
	SafetyMargin = 200
	// MaxContentLength is the largest payload carried by one part.
	MaxContentLength = MaxTotalLength - SafetyMargin
)

var headerPattern = regexp.MustCompile(`^\[PART (\d+)/(\d+)\]\n`)

// Header identifies a part within a split message.
type Header struct {
	Index int
	Total int
}

func (h Header) String() string {
	return fmt.Sprintf("[PART %d/%d]\n", h.Index, h.Total)
}

// Split cuts text into contiguous slices of at most maxLen characters.
// Text that fits is returned unchanged as a single untagged part; otherwise
// every slice is prefixed with its "[PART i/n]" header. Lengths are counted
// in runes so a part never ends inside a UTF-8 sequence.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MaxContentLength
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	total := (len(runes) + maxLen - 1) / maxLen
	parts := make([]string, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxLen
		end := min(start+maxLen, len(runes))
		parts = append(parts, Header{Index: i + 1, Total: total}.String()+string(runes[start:end]))
	}
	return parts
}

// Parse reports whether part starts with a part header and returns the
// header and the payload that follows it.
func Parse(part string) (Header, string, bool) {
	m := headerPattern.FindStringSubmatchIndex(part)
	if m == nil {
		return Header{}, part, false
	}
	index, err := strconv.Atoi(part[m[2]:m[3]])
	if err != nil {
		return Header{}, part, false
	}
	total, err := strconv.Atoi(part[m[4]:m[5]])
	if err != nil {
		return Header{}, part, false
	}
	if index < 1 || total < 1 || index > total {
		return Header{}, part, false
	}
	return Header{Index: index, Total: total}, part[m[1]:], true
}

// Join reverses Split. Parts must be complete and in order.
func Join(parts []string) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("no parts")
	}
	if len(parts) == 1 {
		if _, _, tagged := Parse(parts[0]); !tagged {
			return parts[0], nil
		}
	}

	var b strings.Builder
	for i, p := range parts {
		h, payload, ok := Parse(p)
		if !ok {
			return "", fmt.Errorf("part %d has no header", i+1)
		}
		if h.Total != len(parts) {
			return "", fmt.Errorf("part %d claims %d parts, got %d", i+1, h.Total, len(parts))
		}
		if h.Index != i+1 {
			return "", fmt.Errorf("part out of order: want %d, got %d", i+1, h.Index)
		}
		b.WriteString(payload)
	}
	return b.String(), nil
}
