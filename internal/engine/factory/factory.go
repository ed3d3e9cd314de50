// Package factory resolves engine specs to adapter implementations.
package factory

import (
	"context"
	"fmt"

	"stt-consolidation-service/internal/engine"
	"stt-consolidation-service/internal/engine/google"
	"stt-consolidation-service/internal/engine/kaldi"
	"stt-consolidation-service/internal/engine/mock"
)

// New builds an adapter for spec. The supported kinds form a closed set;
// adding an engine means implementing engine.Adapter and extending this
// switch, not runtime type inspection.
func New(ctx context.Context, spec engine.Spec) (engine.Adapter, error) {
	switch spec.Kind {
	case "mock":
		return mock.New(spec.ID), nil
	case "google":
		return google.New(ctx, spec.ID)
	case "kaldi":
		return kaldi.New(spec.ID, spec.URL)
	default:
		return nil, fmt.Errorf("unknown engine kind %q", spec.Kind)
	}
}
