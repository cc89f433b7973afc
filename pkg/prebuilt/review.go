package prebuilt

import (
	"context"
	"strconv"

	"github.com/flowgraph/stategraph/pkg/stategraph"
)

// ReviewConfig configures a draft/review/publish pipeline that pauses
// before every review so a person can set "approved" through UpdateState.
type ReviewConfig struct {
	Name string
	// Draft produces the next revision. The default appends a numbered
	// draft to "drafts".
	Draft stategraph.NodeFunc
	// Publish runs once the draft is approved. The default copies the
	// latest draft to "published".
	Publish stategraph.NodeFunc
	// MaxRevisions ends the run unpublished after this many drafts.
	// Defaults to 3.
	MaxRevisions int
}

// ReviewPipeline declares draft -> review -> publish | draft | END with
// an interrupt before review.
func ReviewPipeline(cfg ReviewConfig) (*stategraph.Builder, error) {
	if cfg.Name == "" {
		cfg.Name = "review"
	}
	if cfg.MaxRevisions <= 0 {
		cfg.MaxRevisions = 3
	}
	if cfg.Draft == nil {
		cfg.Draft = func(_ context.Context, snap stategraph.Snapshot) (stategraph.Update, error) {
			n := len(snap.State.List("drafts")) + 1
			return stategraph.Update{"drafts": draftName(n), "revision": 1}, nil
		}
	}
	if cfg.Publish == nil {
		cfg.Publish = func(_ context.Context, snap stategraph.Snapshot) (stategraph.Update, error) {
			drafts := snap.State.List("drafts")
			if len(drafts) == 0 {
				return nil, nil
			}
			return stategraph.Update{"published": drafts[len(drafts)-1]}, nil
		}
	}

	schema := stategraph.NewSchema(
		stategraph.WithField("drafts", stategraph.Append),
		stategraph.WithField("revision", stategraph.Add),
	)
	maxRevisions := int64(cfg.MaxRevisions)
	route := func(s stategraph.State) []string {
		if approved, _ := s["approved"].(bool); approved {
			return []string{"publish"}
		}
		if n, _ := s.Int("revision"); n >= maxRevisions {
			return []string{stategraph.END}
		}
		return []string{"draft"}
	}
	// review clears the verdict so a rejected draft is judged afresh.
	review := func(_ context.Context, snap stategraph.Snapshot) (stategraph.Update, error) {
		if approved, _ := snap.State["approved"].(bool); approved {
			return nil, nil
		}
		return stategraph.Update{"approved": false}, nil
	}

	return stategraph.New(cfg.Name, schema).
		AddNodeFunc("draft", cfg.Draft).
		AddNodeFunc("review", review).
		AddNodeFunc("publish", cfg.Publish).
		AddEdge("draft", "review").
		AddConditionalEdge("review", route, "publish", "draft", stategraph.END).
		AddEdge("publish", stategraph.END).
		SetEntry("draft").
		InterruptBefore("review").
		WithBudgets(stategraph.Budgets{MaxVisitsPerPath: cfg.MaxRevisions + 1, MaxSteps: 3*cfg.MaxRevisions + 2}), nil
}

func draftName(n int) string {
	return "draft-" + strconv.Itoa(n)
}
