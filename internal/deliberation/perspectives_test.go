package deliberation

import (
	"testing"
)

func TestParseSelection(t *testing.T) {
	block := `**Agreeable Claims:**
- [0] Transit should be free for everyone
- [3] Cities must invest in bus corridors

**Opposing Claims:**
- [1] Fares fund essential maintenance
- [2] Free transit attracts overcrowding

**Reason:** The user strongly favors accessible public transport.`

	sel := ParseSelection(block)
	if len(sel.Agreeable) != 2 || len(sel.Opposing) != 2 {
		t.Fatalf("parsed %d agreeable, %d opposing", len(sel.Agreeable), len(sel.Opposing))
	}
	if sel.Agreeable[0] != "- [0] Transit should be free for everyone" {
		t.Errorf("agreeable[0] = %q", sel.Agreeable[0])
	}
	if sel.Reason != "The user strongly favors accessible public transport." {
		t.Errorf("reason = %q", sel.Reason)
	}
}

func TestParseSelectionMalformed(t *testing.T) {
	tests := []struct {
		name  string
		block string
	}{
		{"empty", ""},
		{"prose only", "I think the user would agree with claims 0 and 3."},
		{"claims without section header", "- [0] some claim\n- [1] other claim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := ParseSelection(tt.block)
			if len(sel.Agreeable) != 0 || len(sel.Opposing) != 0 {
				t.Errorf("malformed block should yield zero claims, got %+v", sel)
			}
			if sel.Reason != "No reason provided." {
				t.Errorf("reason = %q", sel.Reason)
			}
		})
	}
}

func TestParseSelectionIgnoresStrayLines(t *testing.T) {
	block := `Here is my selection:

**Agreeable Claims:**
- [0] claim a
some commentary the model added
- [1] claim b

**Opposing Claims:**
- [2] claim c
`
	sel := ParseSelection(block)
	if len(sel.Agreeable) != 2 {
		t.Errorf("agreeable = %v", sel.Agreeable)
	}
	if len(sel.Opposing) != 1 {
		t.Errorf("opposing = %v", sel.Opposing)
	}
}

func TestTruncateSnippet(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "word "
	}
	got := truncateSnippet(long)
	runes := []rune(got)
	if len(runes) != snippetLimit+1 {
		t.Errorf("truncated length = %d, want %d plus ellipsis", len(runes), snippetLimit+1)
	}
	if runes[len(runes)-1] != '…' {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}

	if got := truncateSnippet("  short   text "); got != "short text" {
		t.Errorf("whitespace collapse = %q", got)
	}
}
