package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// EnsureReady checks that the Engine is reachable and the extraction model is
// available. A missing model is pulled with progress output written to w when
// the backend supports it.
func EnsureReady(ctx context.Context, e Engine, model string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%s backend is not reachable; please ensure it is running and configured", e.Name())
	}

	if e.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return nil
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	err := e.PullModel(ctx, model, func(p PullProgress) {
		if p.Total > 0 {
			pct := float64(p.Completed) / float64(p.Total) * 100
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
		} else {
			fmt.Fprintf(w, "  %s\n", p.Status)
		}
	})
	if errors.Is(err, ErrPullUnsupported) {
		return fmt.Errorf("model %s is not available on %s", model, e.Name())
	}
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
