package checkpoint

import (
	"context"
	"slices"
	"time"
)

// Store persists checkpoints per thread. Save assigns the next sequence
// number to cp.Seq. Load returns the most recent checkpoint of a thread,
// or ErrCheckpointNotFound.
type Store interface {
	Save(ctx context.Context, threadID string, cp *Checkpoint) error
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
}

// Lister is implemented by stores that keep checkpoint history.
type Lister interface {
	// List returns the checkpoints of a thread in ascending Seq order.
	List(ctx context.Context, threadID string, filter Filter) ([]*Checkpoint, error)
}

// Deleter is implemented by stores that can drop a thread.
type Deleter interface {
	Delete(ctx context.Context, threadID string) error
}

// Locker is implemented by stores that can enforce a single writer per
// thread across processes. Lock fails with ErrThreadLocked when another
// holder owns the thread.
type Locker interface {
	Lock(ctx context.Context, threadID string) (unlock func(), err error)
}

// Filter narrows a history listing
type Filter struct {
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Before *time.Time `json:"before,omitempty"`
	Source Source     `json:"source,omitempty"`
	Tags   []string   `json:"tags,omitempty"`
}

// Validate ensures filter parameters are valid
func (f *Filter) Validate() error {
	if f.Limit < 0 {
		return ErrInvalidLimit
	}
	if f.Offset < 0 {
		return ErrInvalidOffset
	}
	if f.Since != nil && f.Before != nil && f.Since.After(*f.Before) {
		return ErrInvalidTimeRange
	}
	return nil
}

// Match reports whether cp passes the filter's predicates.
func (f *Filter) Match(cp *Checkpoint) bool {
	if f.Since != nil && cp.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Before != nil && !cp.Timestamp.Before(*f.Before) {
		return false
	}
	if f.Source != "" && cp.Metadata.Source != f.Source {
		return false
	}
	for _, tag := range f.Tags {
		if !slices.Contains(cp.Metadata.Tags, tag) {
			return false
		}
	}
	return true
}

// Apply filters an ascending history and applies offset and limit.
func (f *Filter) Apply(cps []*Checkpoint) []*Checkpoint {
	out := make([]*Checkpoint, 0, len(cps))
	for _, cp := range cps {
		if f.Match(cp) {
			out = append(out, cp)
		}
	}
	if f.Offset >= len(out) {
		return nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}
