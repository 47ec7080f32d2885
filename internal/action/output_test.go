package action

import (
	"strings"
	"testing"
)

func TestApplyOutputLimits_ByLines(t *testing.T) {
	in := "a\nb\nc\nd"
	out, tl, tb := ApplyOutputLimits(in, Limits{MaxLines: 2, MaxBytes: 0})
	if out != "a\nb" {
		t.Fatalf("unexpected output: %q", out)
	}
	if !tl || tb {
		t.Fatalf("unexpected flags tl=%v tb=%v", tl, tb)
	}
}

func TestApplyOutputLimits_ByBytes(t *testing.T) {
	in := "abcdef"
	out, tl, tb := ApplyOutputLimits(in, Limits{MaxLines: 0, MaxBytes: 3})
	if out != "abc" {
		t.Fatalf("unexpected output: %q", out)
	}
	if tl || !tb {
		t.Fatalf("unexpected flags tl=%v tb=%v", tl, tb)
	}
}

func TestApplyOutputLimits_ByteCutKeepsUTF8(t *testing.T) {
	in := "aż" // 'ż' is two bytes
	out, _, tb := ApplyOutputLimits(in, Limits{MaxBytes: 2})
	if out != "a" || !tb {
		t.Fatalf("unexpected output %q truncated=%v", out, tb)
	}
}

func TestApplyOutputLimits_Both(t *testing.T) {
	in := strings.Repeat("x", 10) + "\n" + strings.Repeat("y", 10) + "\n" + strings.Repeat("z", 10)
	out, tl, tb := ApplyOutputLimits(in, Limits{MaxLines: 2, MaxBytes: 15})
	if !tl || !tb {
		t.Fatalf("expected both truncations, got tl=%v tb=%v", tl, tb)
	}
	if len(out) > 15 {
		t.Fatalf("output not byte-truncated: len=%d", len(out))
	}
}
