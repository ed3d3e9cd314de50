// Package align builds a common word-slot sequence from independently worded
// engine results for the same utterance. Comparison is case- and
// punctuation-normalized; original casing and punctuation are preserved for
// output.
package align

import (
	"strings"
	"unicode"

	"stt-consolidation-service/internal/engine"
)

// Word is one engine's contribution to a slot.
type Word struct {
	Text       string
	Norm       string
	Confidence float64
}

// Slot is one position in the aligned word sequence. Engines absent from the
// map produced no corresponding word (a gap with zero confidence). Agree is
// true only when every aligned engine contributed a word and all normalized
// texts are equal.
type Slot struct {
	Words map[string]Word
	Agree bool
}

// Result is the outcome of aligning one utterance.
type Result struct {
	Slots []Slot
	// Engines that entered alignment, primary first.
	Engines []string
	Primary string
	// Dropped engines produced empty or malformed word sequences and were
	// discarded for this utterance, equivalent to an engine failure.
	Dropped []string
}

// Normalize lowercases s and strips punctuation for comparison only.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tokens extracts comparable words from a final engine result, falling back
// to whitespace splitting when the engine supplied no word alignment.
func tokens(res engine.Result) []Word {
	var out []Word
	if len(res.Words) > 0 {
		for _, w := range res.Words {
			norm := Normalize(w.Text)
			if norm == "" {
				continue
			}
			out = append(out, Word{Text: w.Text, Norm: norm, Confidence: w.Confidence})
		}
		return out
	}
	for _, w := range strings.Fields(res.Text) {
		norm := Normalize(w)
		if norm == "" {
			continue
		}
		out = append(out, Word{Text: w, Norm: norm, Confidence: res.Confidence})
	}
	return out
}

// Align aligns the final results of one utterance pairwise against the
// primary engine and reconciles them into a common slot index. Engines with
// empty word sequences are dropped. The primary falls back to the first
// engine with usable tokens when the configured primary produced nothing.
func Align(primaryID string, results []engine.Result) Result {
	var res Result

	type entry struct {
		id    string
		words []Word
	}
	var entries []entry
	for _, r := range results {
		w := tokens(r)
		if len(w) == 0 {
			res.Dropped = append(res.Dropped, r.EngineID)
			continue
		}
		entries = append(entries, entry{id: r.EngineID, words: w})
	}
	if len(entries) == 0 {
		return res
	}

	// move the primary to the front
	primary := 0
	for i, e := range entries {
		if e.id == primaryID {
			primary = i
			break
		}
	}
	entries[0], entries[primary] = entries[primary], entries[0]
	res.Primary = entries[0].id
	for _, e := range entries {
		res.Engines = append(res.Engines, e.id)
	}

	p := entries[0].words
	n := len(p)

	// base[i]: per-engine word aligned to primary position i.
	// inserted[anchor]: per-engine ordered extra words after primary
	// position anchor (-1 = before the first primary word).
	base := make([]map[string]Word, n)
	for i := range base {
		base[i] = map[string]Word{entries[0].id: p[i]}
	}
	inserted := make(map[int]map[string][]Word)

	for _, e := range entries[1:] {
		assign, ins := pairAlign(p, e.words)
		for i, j := range assign {
			if j >= 0 {
				base[i][e.id] = e.words[j]
			}
		}
		for anchor, idxs := range ins {
			if inserted[anchor] == nil {
				inserted[anchor] = map[string][]Word{}
			}
			for _, j := range idxs {
				inserted[anchor][e.id] = append(inserted[anchor][e.id], e.words[j])
			}
		}
	}

	engineCount := len(entries)
	appendInserted := func(anchor int) {
		byEngine := inserted[anchor]
		if byEngine == nil {
			return
		}
		depth := 0
		for _, ws := range byEngine {
			if len(ws) > depth {
				depth = len(ws)
			}
		}
		// Engines disagreeing on insert boundaries simply lack a word at
		// the deeper slots and are excluded from those slots' votes.
		for k := 0; k < depth; k++ {
			slot := Slot{Words: map[string]Word{}}
			for id, ws := range byEngine {
				if k < len(ws) {
					slot.Words[id] = ws[k]
				}
			}
			slot.Agree = agreement(slot.Words, engineCount)
			res.Slots = append(res.Slots, slot)
		}
	}

	appendInserted(-1)
	for i := 0; i < n; i++ {
		slot := Slot{Words: base[i]}
		slot.Agree = agreement(slot.Words, engineCount)
		res.Slots = append(res.Slots, slot)
		appendInserted(i)
	}
	return res
}

func agreement(words map[string]Word, engineCount int) bool {
	if len(words) != engineCount || engineCount < 2 {
		return false
	}
	var norm string
	first := true
	for _, w := range words {
		if first {
			norm = w.Norm
			first = false
			continue
		}
		if w.Norm != norm {
			return false
		}
	}
	return true
}

// pairAlign computes a minimum-edit-distance alignment of o against p.
// assign[i] is the index in o substituted or matched at primary position i,
// or -1 when o has a gap there. ins maps a primary anchor position to the o
// indexes inserted right after it.
func pairAlign(p, o []Word) (assign []int, ins map[int][]int) {
	m, n := len(p), len(o)
	// dp[i][j]: edit distance between p[:i] and o[:j]
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
		dp[i][0] = i
	}
	for j := 0; j <= n; j++ {
		dp[0][j] = j
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			sub := dp[i-1][j-1]
			if p[i-1].Norm != o[j-1].Norm {
				sub++
			}
			del := dp[i-1][j] + 1
			insc := dp[i][j-1] + 1
			best := sub
			if del < best {
				best = del
			}
			if insc < best {
				best = insc
			}
			dp[i][j] = best
		}
	}

	assign = make([]int, m)
	for i := range assign {
		assign[i] = -1
	}
	ins = make(map[int][]int)

	// traceback, preferring diagonal moves so substitutions pair up
	i, j := m, n
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && dp[i][j] == dp[i-1][j-1]+subCost(p[i-1], o[j-1]):
			assign[i-1] = j - 1
			i--
			j--
		case i > 0 && dp[i][j] == dp[i-1][j]+1:
			i--
		default:
			// o[j-1] inserted after primary position i-1
			ins[i-1] = append([]int{j - 1}, ins[i-1]...)
			j--
		}
	}
	return assign, ins
}

func subCost(a, b Word) int {
	if a.Norm == b.Norm {
		return 0
	}
	return 1
}
