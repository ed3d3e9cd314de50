package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

type ollamaClient struct {
	endpoint string
	model    string
	timeout  time.Duration
	http     *http.Client
}

// NewOllamaClient creates a client against an ollama /api/generate endpoint.
// The returned client is stateless and safe to share across sessions.
func NewOllamaClient(endpoint, model string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ollamaClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		timeout:  timeout,
		http:     &http.Client{},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type decisionPayload struct {
	Decisions []Decision `json:"decisions"`
}

const systemPrompt = `You arbitrate between speech recognizers that transcribed the same audio and disagree on individual words. Using the conversation context and each recognizer's full sentence, pick the most plausible word for every disputed position. Answer with JSON only: {"decisions":[{"slotId":<int>,"chosenText":"<word>","reason":"<short reason>"}]}. chosenText must be one of the listed candidate words.`

func (c *ollamaClient) Resolve(ctx context.Context, req Request) ([]Decision, error) {
	if len(req.Disagreements) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaRequest{
		Model:  c.model,
		Prompt: buildPrompt(req),
		System: systemPrompt,
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return nil, NewError(KindInvalidResponse, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, NewError(KindInvalidResponse, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return nil, NewError(KindTimeout, err)
		}
		return nil, NewError(KindInvalidResponse, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, NewError(KindRateLimited, fmt.Errorf("ollama returned status %s", resp.Status))
	}
	if resp.StatusCode >= 300 {
		return nil, NewError(KindInvalidResponse, fmt.Errorf("ollama returned status %s", resp.Status))
	}

	var outer ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&outer); err != nil {
		return nil, NewError(KindInvalidResponse, err)
	}
	var payload decisionPayload
	if err := json.Unmarshal([]byte(outer.Response), &payload); err != nil {
		return nil, NewError(KindInvalidResponse, fmt.Errorf("decode decisions: %w", err))
	}
	if err := validate(req, payload.Decisions); err != nil {
		return nil, NewError(KindInvalidResponse, err)
	}
	return payload.Decisions, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	if len(req.ContextWindow) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, line := range req.ContextWindow {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	ids := make([]string, 0, len(req.EngineTexts))
	for id := range req.EngineTexts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	b.WriteString("Full sentence per recognizer:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %q\n", id, req.EngineTexts[id])
	}

	b.WriteString("\nDisputed words:\n")
	for _, d := range req.Disagreements {
		fmt.Fprintf(&b, "slotId %d:", d.SlotID)
		for _, c := range d.Candidates {
			fmt.Fprintf(&b, " %q (%s, confidence %.2f)", c.Text, c.EngineID, c.Confidence)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// validate rejects responses that skip slots or invent words outside the
// candidate set.
func validate(req Request, decisions []Decision) error {
	allowed := make(map[int]map[string]bool, len(req.Disagreements))
	for _, d := range req.Disagreements {
		set := map[string]bool{}
		for _, c := range d.Candidates {
			set[strings.ToLower(c.Text)] = true
		}
		allowed[d.SlotID] = set
	}
	seen := map[int]bool{}
	for _, dec := range decisions {
		set, ok := allowed[dec.SlotID]
		if !ok {
			return fmt.Errorf("decision for unknown slot %d", dec.SlotID)
		}
		if !set[strings.ToLower(dec.ChosenText)] {
			return fmt.Errorf("slot %d: chosen text %q is not a candidate", dec.SlotID, dec.ChosenText)
		}
		seen[dec.SlotID] = true
	}
	for _, d := range req.Disagreements {
		if !seen[d.SlotID] {
			return fmt.Errorf("missing decision for slot %d", d.SlotID)
		}
	}
	return nil
}
