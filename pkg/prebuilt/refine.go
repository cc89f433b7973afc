package prebuilt

import (
	"context"
	"fmt"

	"github.com/flowgraph/stategraph/pkg/stategraph"
)

// RefineConfig configures a generate/evaluate loop that stops once the
// score reaches Threshold or after MaxAttempts generations.
type RefineConfig struct {
	Name string
	// Generate produces a candidate. The default raises "quality" by 0.3
	// per attempt.
	Generate stategraph.NodeFunc
	// Score rates the merged state. The default reads "quality".
	Score       func(stategraph.State) float64
	Threshold   float64
	MaxAttempts int
}

// RefinementLoop declares generate -> evaluate -> generate | END. The
// visit budget is set just above MaxAttempts so a router that never
// converges still fails with a cycle error.
func RefinementLoop(cfg RefineConfig) (*stategraph.Builder, error) {
	if cfg.Name == "" {
		cfg.Name = "refine"
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.8
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxAttempts < 0 || cfg.Threshold < 0 {
		return nil, fmt.Errorf("%w: negative threshold or attempts", ErrInvalidConfig)
	}
	if cfg.Generate == nil {
		cfg.Generate = func(context.Context, stategraph.Snapshot) (stategraph.Update, error) {
			return stategraph.Update{"quality": 0.3}, nil
		}
	}
	if cfg.Score == nil {
		cfg.Score = func(s stategraph.State) float64 { return toFloat(s["quality"]) }
	}

	schema := stategraph.NewSchema(
		stategraph.WithField("quality", stategraph.Add),
		stategraph.WithField("attempts", stategraph.Add),
		stategraph.WithField("scores", stategraph.Append),
	)
	evaluate := func(_ context.Context, snap stategraph.Snapshot) (stategraph.Update, error) {
		score := cfg.Score(snap.State)
		return stategraph.Update{"score": score, "scores": score, "attempts": 1}, nil
	}
	threshold, limit := cfg.Threshold, int64(cfg.MaxAttempts)
	route := func(s stategraph.State) []string {
		if toFloat(s["score"]) >= threshold {
			return []string{stategraph.END}
		}
		if n, _ := s.Int("attempts"); n >= limit {
			return []string{stategraph.END}
		}
		return []string{"generate"}
	}

	budgets := stategraph.DefaultBudgets()
	budgets.MaxVisitsPerPath = cfg.MaxAttempts + 1
	budgets.MaxSteps = 2*cfg.MaxAttempts + 2

	return stategraph.New(cfg.Name, schema).
		AddNodeFunc("generate", cfg.Generate).
		AddNodeFunc("evaluate", evaluate).
		AddEdge("generate", "evaluate").
		AddConditionalEdge("evaluate", route, "generate", stategraph.END).
		SetEntry("generate").
		WithBudgets(budgets), nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}
