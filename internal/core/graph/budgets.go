package graph

import (
	"fmt"
	"time"

	"github.com/flowgraph/stategraph/pkg/validation"
)

// Budgets bound one invocation. Zero disables a limit.
type Budgets struct {
	MaxDuration      time.Duration `json:"max_duration" yaml:"max_duration" validate:"gte=0"`
	MaxVisitsPerPath int           `json:"max_visits_per_path" yaml:"max_visits_per_path" validate:"gte=0"`
	NodeTimeout      time.Duration `json:"node_timeout" yaml:"node_timeout" validate:"gte=0"`
	MaxSteps         int           `json:"max_steps" yaml:"max_steps" validate:"gte=0"`
}

// DefaultBudgets catches runaway loops without limiting wall time.
func DefaultBudgets() Budgets {
	return Budgets{
		MaxVisitsPerPath: 25,
		MaxSteps:         50,
	}
}

// Validate checks the budgets are non-negative.
func (b Budgets) Validate() error {
	if err := validation.Struct(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBudgets, err)
	}
	return nil
}

// Override returns b with every non-zero field of o applied.
func (b Budgets) Override(o Budgets) Budgets {
	if o.MaxDuration != 0 {
		b.MaxDuration = o.MaxDuration
	}
	if o.MaxVisitsPerPath != 0 {
		b.MaxVisitsPerPath = o.MaxVisitsPerPath
	}
	if o.NodeTimeout != 0 {
		b.NodeTimeout = o.NodeTimeout
	}
	if o.MaxSteps != 0 {
		b.MaxSteps = o.MaxSteps
	}
	return b
}
