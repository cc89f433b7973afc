package prebuilt

import (
	"context"
	"fmt"

	"github.com/flowgraph/stategraph/pkg/stategraph"
)

// DiamondConfig configures a fan-out/fan-in graph: split runs first,
// every branch runs in the same superstep, and join runs once after all
// of them.
type DiamondConfig struct {
	Name     string
	Branches []string
	// Branch builds the node for one branch. The default appends the
	// branch name to "results".
	Branch func(branch string) stategraph.NodeFunc
	// Join runs after the branches. The default records how many results
	// arrived under "joined".
	Join stategraph.NodeFunc
}

// Diamond declares split -> branches -> join.
func Diamond(cfg DiamondConfig) (*stategraph.Builder, error) {
	if cfg.Name == "" {
		cfg.Name = "diamond"
	}
	if len(cfg.Branches) == 0 {
		cfg.Branches = []string{"left", "right"}
	}
	if cfg.Branch == nil {
		cfg.Branch = func(branch string) stategraph.NodeFunc {
			return func(context.Context, stategraph.Snapshot) (stategraph.Update, error) {
				return stategraph.Update{"results": branch}, nil
			}
		}
	}
	if cfg.Join == nil {
		cfg.Join = func(_ context.Context, snap stategraph.Snapshot) (stategraph.Update, error) {
			return stategraph.Update{"joined": len(snap.State.List("results"))}, nil
		}
	}
	for _, b := range cfg.Branches {
		if b == "split" || b == "join" {
			return nil, fmt.Errorf("%w: branch name %q is reserved", ErrInvalidConfig, b)
		}
	}

	schema := stategraph.NewSchema(
		stategraph.WithField("results", stategraph.Append),
		stategraph.WithField("log", stategraph.Append),
	)
	b := stategraph.New(cfg.Name, schema).
		AddNodeFunc("split", func(context.Context, stategraph.Snapshot) (stategraph.Update, error) {
			return stategraph.Update{"log": "split"}, nil
		}).
		AddNodeFunc("join", cfg.Join).
		AddEdge("split", cfg.Branches...).
		AddEdge("join", stategraph.END).
		SetEntry("split")
	for _, name := range cfg.Branches {
		b.AddNodeFunc(name, cfg.Branch(name)).AddEdge(name, "join")
	}
	return b, nil
}
