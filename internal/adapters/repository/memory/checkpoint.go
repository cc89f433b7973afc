// Package memory provides a process-local checkpoint store.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/pkg/serialization"
)

var (
	_ checkpoint.Store   = (*Store)(nil)
	_ checkpoint.Lister  = (*Store)(nil)
	_ checkpoint.Deleter = (*Store)(nil)
)

// Store keeps every thread's checkpoint history in memory. Checkpoints
// are held as deep copies so state values keep their Go types across
// save and load. Threads expire TTL after their last write, and when
// MaxBytes is set the least recently used threads are evicted to make
// room.
type Store struct {
	mu          sync.Mutex
	threads     map[string]*thread
	ttl         time.Duration
	maxBytes    int64
	maxHistory  int
	currentSize int64
	sizer       serialization.Codec

	stop    chan struct{}
	stopped sync.Once
}

// Config holds configuration for Store
type Config struct {
	// TTL is how long an idle thread is kept. Zero keeps threads forever.
	TTL time.Duration
	// MaxBytes bounds the encoded size of everything held. Zero is unbounded.
	MaxBytes int64
	// MaxHistory keeps only the newest checkpoints of each thread. Zero
	// keeps all of them.
	MaxHistory int
	// CleanupInterval is how often expired threads are swept. Defaults
	// to a minute when TTL is set.
	CleanupInterval time.Duration
}

type thread struct {
	history   []*entry
	nextSeq   int64
	size      int64
	expiresAt time.Time
	touchedAt time.Time
}

type entry struct {
	cp   *checkpoint.Checkpoint
	size int64
}

// Stats reports memory usage.
type Stats struct {
	Threads     int   `json:"threads"`
	Checkpoints int   `json:"checkpoints"`
	Bytes       int64 `json:"bytes"`
	MaxBytes    int64 `json:"max_bytes"`
}

// New creates a store and starts its expiry sweeper when TTL is set.
func New(cfg Config) *Store {
	s := &Store{
		threads:    make(map[string]*thread),
		ttl:        cfg.TTL,
		maxBytes:   cfg.MaxBytes,
		maxHistory: cfg.MaxHistory,
		sizer:      serialization.MsgPackCodec{},
		stop:       make(chan struct{}),
	}
	if s.ttl > 0 {
		interval := cfg.CleanupInterval
		if interval <= 0 {
			interval = time.Minute
		}
		go s.sweep(interval)
	}
	return s
}

// Save appends cp to the thread's history and assigns its sequence number.
func (s *Store) Save(_ context.Context, threadID string, cp *checkpoint.Checkpoint) error {
	if cp == nil {
		return checkpoint.ErrNilCheckpoint
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("checkpoint validation failed: %w", err)
	}
	var size int64
	if s.maxBytes > 0 {
		data, err := s.sizer.Encode(cp)
		if err != nil {
			return fmt.Errorf("sizing checkpoint: %w", err)
		}
		size = int64(len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	t := s.threads[threadID]
	if t != nil && s.expired(t, now) {
		s.drop(threadID)
		t = nil
	}
	if t == nil {
		t = &thread{}
		s.threads[threadID] = t
	}
	if err := s.reserve(threadID, size); err != nil {
		if len(t.history) == 0 {
			delete(s.threads, threadID)
		}
		return err
	}

	t.nextSeq++
	cp.Seq = t.nextSeq
	t.history = append(t.history, &entry{cp: cp.Clone(), size: size})
	t.size += size
	s.currentSize += size
	if s.maxHistory > 0 && len(t.history) > s.maxHistory {
		for _, old := range t.history[:len(t.history)-s.maxHistory] {
			t.size -= old.size
			s.currentSize -= old.size
		}
		t.history = slices.Clone(t.history[len(t.history)-s.maxHistory:])
	}
	t.touchedAt = now
	if s.ttl > 0 {
		t.expiresAt = now.Add(s.ttl)
	}
	return nil
}

// Load returns the newest checkpoint of the thread.
func (s *Store) Load(_ context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.live(threadID)
	if err != nil {
		return nil, err
	}
	t.touchedAt = time.Now()
	return t.history[len(t.history)-1].cp.Clone(), nil
}

// List returns the thread's checkpoints matching filter, oldest first.
func (s *Store) List(_ context.Context, threadID string, filter checkpoint.Filter) ([]*checkpoint.Checkpoint, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("filter validation failed: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.live(threadID)
	if err != nil {
		return nil, err
	}
	all := make([]*checkpoint.Checkpoint, len(t.history))
	for i, e := range t.history {
		all[i] = e.cp
	}
	matched := filter.Apply(all)
	out := make([]*checkpoint.Checkpoint, len(matched))
	for i, cp := range matched {
		out[i] = cp.Clone()
	}
	return out, nil
}

// Delete drops a thread and its history.
func (s *Store) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return checkpoint.ErrCheckpointNotFound
	}
	s.drop(threadID)
	return nil
}

// Threads lists the live thread ids in sorted order.
func (s *Store) Threads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make([]string, 0, len(s.threads))
	for id, t := range s.threads {
		if !s.expired(t, now) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Stats returns current usage.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Threads: len(s.threads), Bytes: s.currentSize, MaxBytes: s.maxBytes}
	for _, t := range s.threads {
		st.Checkpoints += len(t.history)
	}
	return st
}

// Close stops the expiry sweeper.
func (s *Store) Close() error {
	s.stopped.Do(func() { close(s.stop) })
	return nil
}

func (s *Store) live(threadID string) (*thread, error) {
	t, ok := s.threads[threadID]
	if !ok || len(t.history) == 0 {
		return nil, checkpoint.ErrCheckpointNotFound
	}
	if s.expired(t, time.Now()) {
		s.drop(threadID)
		return nil, checkpoint.ErrCheckpointNotFound
	}
	return t, nil
}

func (s *Store) expired(t *thread, now time.Time) bool {
	return s.ttl > 0 && !t.expiresAt.IsZero() && now.After(t.expiresAt)
}

func (s *Store) drop(threadID string) {
	if t, ok := s.threads[threadID]; ok {
		s.currentSize -= t.size
		delete(s.threads, threadID)
	}
}

// reserve evicts least recently used threads other than keep until size
// more bytes fit.
func (s *Store) reserve(keep string, size int64) error {
	if s.maxBytes <= 0 || s.currentSize+size <= s.maxBytes {
		return nil
	}
	type candidate struct {
		id        string
		touchedAt time.Time
	}
	var victims []candidate
	for id, t := range s.threads {
		if id != keep {
			victims = append(victims, candidate{id, t.touchedAt})
		}
	}
	slices.SortFunc(victims, func(a, b candidate) int {
		return cmp.Or(a.touchedAt.Compare(b.touchedAt), cmp.Compare(a.id, b.id))
	})
	for _, v := range victims {
		if s.currentSize+size <= s.maxBytes {
			break
		}
		s.drop(v.id)
	}
	if s.currentSize+size > s.maxBytes {
		return fmt.Errorf("memory limit exceeded: %d bytes held, %d requested, max %d",
			s.currentSize, size, s.maxBytes)
	}
	return nil
}

func (s *Store) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for id, t := range s.threads {
				if s.expired(t, now) {
					s.drop(id)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}
