package llm

import "context"

type mockClient struct {
	resolve func(ctx context.Context, req Request) ([]Decision, error)
}

// NewMockClient returns a client backed by resolve. A nil resolve picks the
// highest-confidence candidate for every disagreement.
func NewMockClient(resolve func(ctx context.Context, req Request) ([]Decision, error)) Client {
	if resolve == nil {
		resolve = func(_ context.Context, req Request) ([]Decision, error) {
			var out []Decision
			for _, d := range req.Disagreements {
				best := d.Candidates[0]
				for _, c := range d.Candidates[1:] {
					if c.Confidence > best.Confidence {
						best = c
					}
				}
				out = append(out, Decision{SlotID: d.SlotID, ChosenText: best.Text, Reason: "highest confidence"})
			}
			return out, nil
		}
	}
	return &mockClient{resolve: resolve}
}

func (m *mockClient) Resolve(ctx context.Context, req Request) ([]Decision, error) {
	return m.resolve(ctx, req)
}
