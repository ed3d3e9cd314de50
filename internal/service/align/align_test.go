package align

import (
	"reflect"
	"strings"
	"testing"

	"stt-consolidation-service/internal/engine"
)

// result builds a final engine result with per-word confidences.
func result(id, text string, confs ...float64) engine.Result {
	fields := strings.Fields(text)
	res := engine.Result{EngineID: id, Text: text, Final: true}
	var sum float64
	for i, f := range fields {
		c := 0.9
		if i < len(confs) {
			c = confs[i]
		}
		sum += c
		res.Words = append(res.Words, engine.WordResult{Text: f, Confidence: c})
	}
	if len(fields) > 0 {
		res.Confidence = sum / float64(len(fields))
	}
	return res
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hello,", "hello"},
		{"WORLD!", "world"},
		{"don't", "dont"},
		{"...", ""},
		{"Straße", "straße"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestAlign_IdenticalTexts(t *testing.T) {
	res := Align("a", []engine.Result{
		result("a", "hello world"),
		result("b", "hello world"),
	})

	if len(res.Slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(res.Slots))
	}
	for i, slot := range res.Slots {
		if !slot.Agree {
			t.Errorf("slot %d: expected agreement", i)
		}
		if len(slot.Words) != 2 {
			t.Errorf("slot %d: expected 2 words, got %d", i, len(slot.Words))
		}
	}
	if !reflect.DeepEqual(res.Engines, []string{"a", "b"}) {
		t.Errorf("expected engines [a b], got %v", res.Engines)
	}
	if res.Primary != "a" {
		t.Errorf("expected primary a, got %s", res.Primary)
	}
}

func TestAlign_CaseAndPunctuationAgree(t *testing.T) {
	res := Align("a", []engine.Result{
		result("a", "Hello world."),
		result("b", "hello World"),
	})

	if len(res.Slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(res.Slots))
	}
	for i, slot := range res.Slots {
		if !slot.Agree {
			t.Errorf("slot %d: case/punctuation difference should still agree", i)
		}
	}
	// original casing must be preserved per engine
	if res.Slots[0].Words["a"].Text != "Hello" {
		t.Errorf("expected 'Hello' preserved, got %q", res.Slots[0].Words["a"].Text)
	}
}

func TestAlign_Substitution(t *testing.T) {
	res := Align("a", []engine.Result{
		result("a", "hello world", 0.90, 0.95),
		result("b", "hello word", 0.90, 0.60),
	})

	if len(res.Slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(res.Slots))
	}
	if !res.Slots[0].Agree {
		t.Error("slot 0: expected agreement")
	}
	slot := res.Slots[1]
	if slot.Agree {
		t.Error("slot 1: expected disagreement")
	}
	if slot.Words["a"].Text != "world" || slot.Words["b"].Text != "word" {
		t.Errorf("slot 1: expected world/word in one slot, got %v", slot.Words)
	}
	if slot.Words["a"].Confidence != 0.95 || slot.Words["b"].Confidence != 0.60 {
		t.Errorf("slot 1: confidences not carried: %v", slot.Words)
	}
}

func TestAlign_MissingWord(t *testing.T) {
	res := Align("a", []engine.Result{
		result("a", "the quick brown fox"),
		result("b", "the brown fox"),
	})

	if len(res.Slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(res.Slots))
	}
	slot := res.Slots[1]
	if slot.Agree {
		t.Error("gap slot must not agree")
	}
	if _, ok := slot.Words["a"]; !ok {
		t.Error("expected word from a in gap slot")
	}
	if _, ok := slot.Words["b"]; ok {
		t.Error("expected no word from b in gap slot")
	}
}

func TestAlign_InsertedWord(t *testing.T) {
	res := Align("a", []engine.Result{
		result("a", "hello world"),
		result("b", "hello there world"),
	})

	if len(res.Slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(res.Slots))
	}
	// inserted slot sits between the two anchors
	slot := res.Slots[1]
	if slot.Agree {
		t.Error("inserted slot must not agree")
	}
	if w, ok := slot.Words["b"]; !ok || w.Norm != "there" {
		t.Errorf("expected inserted 'there' from b, got %v", slot.Words)
	}
	if _, ok := slot.Words["a"]; ok {
		t.Error("expected no word from a in inserted slot")
	}
}

func TestAlign_EmptyEngineDropped(t *testing.T) {
	res := Align("a", []engine.Result{
		result("a", "hello world"),
		{EngineID: "b", Text: "", Final: true},
	})

	if !reflect.DeepEqual(res.Dropped, []string{"b"}) {
		t.Errorf("expected b dropped, got %v", res.Dropped)
	}
	if !reflect.DeepEqual(res.Engines, []string{"a"}) {
		t.Errorf("expected engines [a], got %v", res.Engines)
	}
}

func TestAlign_PrimaryFirst(t *testing.T) {
	res := Align("b", []engine.Result{
		result("a", "one two"),
		result("b", "one two"),
	})
	if res.Engines[0] != "b" {
		t.Errorf("expected primary b first, got %v", res.Engines)
	}
}

func TestAlign_WhitespaceFallback(t *testing.T) {
	// no word alignment from the engine; tokens come from the text
	res := Align("a", []engine.Result{
		{EngineID: "a", Text: "good morning", Confidence: 0.8, Final: true},
		{EngineID: "b", Text: "good morning", Confidence: 0.85, Final: true},
	})
	if len(res.Slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(res.Slots))
	}
	if res.Slots[0].Words["a"].Confidence != 0.8 {
		t.Errorf("expected overall confidence on fallback words, got %v", res.Slots[0].Words["a"])
	}
}
