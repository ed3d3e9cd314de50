package speaker

import "testing"

func TestPatternDetector_Detect(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantName string
		wantOK   bool
	}{
		{
			name:     "single name announcement",
			text:     "Alice: I want to cancel my subscription",
			wantName: "Alice",
			wantOK:   true,
		},
		{
			name:     "two word name",
			text:     "Mary Smith: hello everyone",
			wantName: "Mary Smith",
			wantOK:   true,
		},
		{
			name:     "leading whitespace",
			text:     "  Bob: yes please",
			wantName: "Bob",
			wantOK:   true,
		},
		{
			name:     "apostrophe in name",
			text:     "O'Brien: good morning",
			wantName: "O'Brien",
			wantOK:   true,
		},
		{
			name:     "hyphenated name",
			text:     "Anne-Marie: thank you",
			wantName: "Anne-Marie",
			wantOK:   true,
		},
		{
			name:   "no announcement",
			text:   "I want to cancel my subscription",
			wantOK: false,
		},
		{
			name:   "lowercase word before colon",
			text:   "note: check the account",
			wantOK: false,
		},
		{
			name:   "colon later in sentence",
			text:   "the options are: yes or no",
			wantOK: false,
		},
		{
			name:   "empty text",
			text:   "",
			wantOK: false,
		},
	}

	d := NewPatternDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, ok := d.Detect(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Detect(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if ok && name != tt.wantName {
				t.Errorf("Detect(%q) name = %q, want %q", tt.text, name, tt.wantName)
			}
		})
	}
}

func TestNoop_NeverDetects(t *testing.T) {
	var d Noop
	if name, ok := d.Detect("Alice: hello"); ok || name != "" {
		t.Errorf("Noop.Detect returned %q, %v", name, ok)
	}
}
