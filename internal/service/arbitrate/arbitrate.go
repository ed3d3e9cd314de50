// Package arbitrate resolves aligned word slots into a single consolidated
// word sequence using agreement, confidence margins, and a batched
// language-model judgment for genuine disagreements.
package arbitrate

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"stt-consolidation-service/internal/llm"
	"stt-consolidation-service/internal/service/align"
	"stt-consolidation-service/internal/service/annotate"
)

// Resolution reasons recorded on non-trivial winners.
const (
	ReasonConfidenceMargin = "confidence margin"
	ReasonMajorityVote     = "majority vote"
	ReasonLLMFallback      = "llm_unavailable_fallback"
)

// Source is one engine's raw value for a resolved slot. Empty Text means the
// engine produced no word there.
type Source struct {
	Text       string
	Confidence float64
}

// Resolved is the final choice for one slot. Immutable once produced.
type Resolved struct {
	Text         string
	Confidence   float64
	Agree        bool
	SingleSource bool
	Reason       string
	Class        annotate.Class
	Sources      map[string]Source
}

// Outcome is the result of arbitrating one utterance.
type Outcome struct {
	Words         []Resolved
	Disagreements int
	// LLMErr is set when the judgment call failed and the confidence
	// fallback was applied. Recoverable; never terminates the session.
	LLMErr error
}

// Config tunes the arbiter.
type Config struct {
	// Margin is the confidence gap above which a disagreement is decided
	// without the language model.
	Margin float64
}

// DefaultMargin is used when no margin is configured.
const DefaultMargin = 0.15

// Arbiter resolves aligned slots. One arbiter serves one session but holds
// no per-utterance state; the model client may be shared across sessions.
type Arbiter struct {
	margin float64
	model  llm.Client
	logger zerolog.Logger
}

// New creates an arbiter. A nil model client disables the judgment path;
// escalations then fall through to the confidence fallback.
func New(cfg Config, model llm.Client, logger zerolog.Logger) *Arbiter {
	margin := cfg.Margin
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &Arbiter{margin: margin, model: model, logger: logger}
}

// Resolve arbitrates every slot of one aligned utterance. engineTexts and
// window are only consulted when slots escalate to the model. The returned
// word sequence always has exactly one entry per slot.
func (a *Arbiter) Resolve(ctx context.Context, aligned align.Result, engineTexts map[string]string, window []string) Outcome {
	out, pending := a.Rules(aligned)
	if pending == nil {
		return out
	}
	return a.Judge(ctx, pending, engineTexts, window)
}

// Pending is an utterance whose rule ladder left genuine disagreements for
// the batched judgment.
type Pending struct {
	aligned   align.Result
	escalated []int
	out       Outcome
}

// Rules runs the model-free rule ladder over every slot. When no slot needs
// the judgment the returned Outcome is complete and the Pending is nil;
// otherwise the caller must settle it with Judge.
func (a *Arbiter) Rules(aligned align.Result) (Outcome, *Pending) {
	var out Outcome
	out.Words = make([]Resolved, len(aligned.Slots))

	var escalated []int
	for i, slot := range aligned.Slots {
		word, settled := a.resolveSlot(aligned, slot)
		out.Words[i] = word
		if !slot.Agree {
			out.Disagreements++
		}
		if !settled {
			escalated = append(escalated, i)
		}
	}

	if len(escalated) > 0 {
		return out, &Pending{aligned: aligned, escalated: escalated, out: out}
	}
	classify(out.Words)
	return out, nil
}

// Judge settles a pending utterance with one batched model call and returns
// the completed outcome. May run on a different goroutine than Rules; the
// pending utterance must not be touched concurrently.
func (a *Arbiter) Judge(ctx context.Context, p *Pending, engineTexts map[string]string, window []string) Outcome {
	a.judge(ctx, p.aligned, p.escalated, p.out.Words, engineTexts, window, &p.out)
	classify(p.out.Words)
	return p.out
}

func classify(words []Resolved) {
	for i := range words {
		words[i].Class = annotate.Classify(words[i].Agree, words[i].Confidence)
	}
}

// resolveSlot applies the rule ladder that needs no model: agreement,
// single-source, majority vote, confidence margin. settled=false marks a
// genuine disagreement left for the batched judgment.
func (a *Arbiter) resolveSlot(aligned align.Result, slot align.Slot) (Resolved, bool) {
	res := Resolved{Sources: sources(aligned.Engines, slot)}

	present := presentWords(aligned.Engines, slot)
	if slot.Agree {
		// keep the primary's casing and punctuation
		w := slot.Words[aligned.Primary]
		res.Text = w.Text
		res.Agree = true
		res.Confidence = meanConfidence(present)
		return res, true
	}

	if len(present) == 1 {
		res.Text = present[0].word.Text
		res.Confidence = present[0].word.Confidence
		res.SingleSource = true
		return res, true
	}

	if win, conf, ok := majority(present); ok {
		res.Text = win
		res.Confidence = conf
		res.Reason = ReasonMajorityVote
		return res, true
	}

	best, second := topTwo(present)
	if best.word.Confidence-second.word.Confidence >= a.margin {
		res.Text = best.word.Text
		res.Confidence = best.word.Confidence
		res.Reason = ReasonConfidenceMargin
		return res, true
	}

	// left open for the judgment batch; prefill the fallback choice
	res.Text = best.word.Text
	res.Confidence = best.word.Confidence
	return res, false
}

// judge batches all escalated slots into one model call and applies the
// decisions. Failures or malformed responses fall back to the
// higher-confidence candidate already prefilled by resolveSlot.
func (a *Arbiter) judge(ctx context.Context, aligned align.Result, escalated []int, words []Resolved, engineTexts map[string]string, window []string, out *Outcome) {
	req := llm.Request{EngineTexts: engineTexts, ContextWindow: window}
	for _, i := range escalated {
		d := llm.Disagreement{SlotID: i}
		for _, id := range aligned.Engines {
			if w, ok := aligned.Slots[i].Words[id]; ok {
				d.Candidates = append(d.Candidates, llm.Candidate{EngineID: id, Text: w.Text, Confidence: w.Confidence})
			}
		}
		req.Disagreements = append(req.Disagreements, d)
	}

	fallback := func(err error) {
		for _, i := range escalated {
			words[i].Reason = ReasonLLMFallback
		}
		out.LLMErr = err
	}

	if a.model == nil {
		fallback(llm.NewError(llm.KindInvalidResponse, nil))
		return
	}

	decisions, err := a.model.Resolve(ctx, req)
	if err != nil {
		a.logger.Warn().Err(err).Int("slots", len(escalated)).Msg("llm arbitration failed, using confidence fallback")
		fallback(err)
		return
	}

	byID := make(map[int]llm.Decision, len(decisions))
	for _, d := range decisions {
		byID[d.SlotID] = d
	}
	for _, i := range escalated {
		dec, ok := byID[i]
		if !ok {
			words[i].Reason = ReasonLLMFallback
			continue
		}
		text, conf := matchCandidate(aligned, i, dec.ChosenText)
		words[i].Text = text
		words[i].Confidence = conf
		words[i].Reason = "llm: " + dec.Reason
	}
}

// matchCandidate maps a chosen text back to the best-confidence candidate
// with that normalized form, preserving engine casing.
func matchCandidate(aligned align.Result, slotID int, chosen string) (string, float64) {
	norm := align.Normalize(chosen)
	bestText := chosen
	bestConf := 0.0
	found := false
	for _, id := range aligned.Engines {
		w, ok := aligned.Slots[slotID].Words[id]
		if !ok || w.Norm != norm {
			continue
		}
		if !found || w.Confidence > bestConf {
			bestText, bestConf = w.Text, w.Confidence
			found = true
		}
	}
	return bestText, bestConf
}

type presence struct {
	engine string
	word   align.Word
}

// presentWords lists the slot's words in configured engine order so that
// ties resolve deterministically toward the primary.
func presentWords(engines []string, slot align.Slot) []presence {
	var out []presence
	for _, id := range engines {
		if w, ok := slot.Words[id]; ok {
			out = append(out, presence{engine: id, word: w})
		}
	}
	return out
}

func sources(engines []string, slot align.Slot) map[string]Source {
	out := make(map[string]Source, len(engines))
	for _, id := range engines {
		if w, ok := slot.Words[id]; ok {
			out[id] = Source{Text: w.Text, Confidence: w.Confidence}
		} else {
			out[id] = Source{}
		}
	}
	return out
}

func meanConfidence(present []presence) float64 {
	if len(present) == 0 {
		return 0
	}
	var sum float64
	for _, p := range present {
		sum += p.word.Confidence
	}
	return sum / float64(len(present))
}

// majority applies the >2-engine tie-break: a normalized text carried by a
// strict majority of present engines wins, at the mean confidence of its
// backers.
func majority(present []presence) (string, float64, bool) {
	if len(present) < 3 {
		return "", 0, false
	}
	groups := map[string][]presence{}
	for _, p := range present {
		groups[p.word.Norm] = append(groups[p.word.Norm], p)
	}
	for _, g := range groups {
		if len(g)*2 > len(present) {
			best := g[0]
			var sum float64
			for _, p := range g {
				sum += p.word.Confidence
				if p.word.Confidence > best.word.Confidence {
					best = p
				}
			}
			return best.word.Text, sum / float64(len(g)), true
		}
	}
	return "", 0, false
}

// topTwo returns the two highest-confidence entries, order-stable for ties.
// Callers guarantee at least two present words.
func topTwo(present []presence) (presence, presence) {
	best, second := present[0], present[1]
	if second.word.Confidence > best.word.Confidence {
		best, second = second, best
	}
	for _, p := range present[2:] {
		switch {
		case p.word.Confidence > best.word.Confidence:
			best, second = p, best
		case p.word.Confidence > second.word.Confidence:
			second = p
		}
	}
	return best, second
}

// Text joins resolved words into the utterance's full text.
func Text(words []Resolved) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if w.Text == "" {
			continue
		}
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}
