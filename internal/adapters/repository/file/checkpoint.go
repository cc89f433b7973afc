// Package file stores each thread's checkpoints as JSON lines in its own
// file under a directory.
package file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/pkg/serialization"
)

var (
	_ checkpoint.Store   = (*Store)(nil)
	_ checkpoint.Lister  = (*Store)(nil)
	_ checkpoint.Deleter = (*Store)(nil)
	_ checkpoint.Locker  = (*Store)(nil)
)

const maxLine = 64 << 20

// Store appends one JSON document per checkpoint to
// <dir>/<sanitized thread>-<hash>.jsonl. Lines are never rewritten.
type Store struct {
	dir   string
	codec serialization.Codec

	mu   sync.Mutex
	next map[string]int64
}

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir, codec: serialization.JSONCodec{}, next: make(map[string]int64)}, nil
}

// FileName maps a thread id to its file name. Characters outside
// [A-Za-z0-9._-] become underscores and a hash of the raw id keeps
// distinct ids apart.
func FileName(threadID string) string {
	var b strings.Builder
	for _, r := range threadID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if len(name) > 64 {
		name = name[:64]
	}
	sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(threadID)).String()[:8]
	return fmt.Sprintf("%s-%s.jsonl", name, sum)
}

func (s *Store) path(threadID string) string {
	return filepath.Join(s.dir, FileName(threadID))
}

// Save appends cp and assigns the next sequence number of the thread.
func (s *Store) Save(_ context.Context, threadID string, cp *checkpoint.Checkpoint) error {
	if cp == nil {
		return checkpoint.ErrNilCheckpoint
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("checkpoint validation failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(threadID)
	seq, ok := s.next[threadID]
	if !ok {
		last, err := s.read(path, func(*checkpoint.Checkpoint) {})
		if err != nil && !errors.Is(err, checkpoint.ErrCheckpointNotFound) {
			return err
		}
		seq = last + 1
	}

	stored := cp.Clone()
	stored.Seq = seq
	line, err := s.codec.Encode(stored)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.next[threadID] = seq + 1
	cp.Seq = seq
	return nil
}

// Load returns the last checkpoint in the thread's file.
func (s *Store) Load(_ context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *checkpoint.Checkpoint
	if _, err := s.read(s.path(threadID), func(cp *checkpoint.Checkpoint) { last = cp }); err != nil {
		return nil, err
	}
	return last, nil
}

// List returns the thread's checkpoints matching filter, oldest first.
func (s *Store) List(_ context.Context, threadID string, filter checkpoint.Filter) ([]*checkpoint.Checkpoint, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("filter validation failed: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*checkpoint.Checkpoint
	if _, err := s.read(s.path(threadID), func(cp *checkpoint.Checkpoint) { all = append(all, cp) }); err != nil {
		return nil, err
	}
	return filter.Apply(all), nil
}

// Delete removes the thread's file.
func (s *Store) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.next, threadID)
	err := os.Remove(s.path(threadID))
	if errors.Is(err, fs.ErrNotExist) {
		return checkpoint.ErrCheckpointNotFound
	}
	return err
}

// Lock creates an exclusive lock file next to the thread's file. A lock
// left behind by a crashed process must be removed by hand.
func (s *Store) Lock(_ context.Context, threadID string) (func(), error) {
	lock := s.path(threadID) + ".lock"
	f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrThreadLocked, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("create lock: %w", err)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	return func() { _ = os.Remove(lock) }, nil
}

// Threads lists the thread ids stored in the directory.
func (s *Store) Threads(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		var first *checkpoint.Checkpoint
		if _, err := s.read(filepath.Join(s.dir, e.Name()), func(cp *checkpoint.Checkpoint) {
			if first == nil {
				first = cp
			}
		}); err == nil && first != nil {
			out = append(out, first.ThreadID)
		}
	}
	slices.Sort(out)
	return out, nil
}

// read decodes every line of path in order and returns the last
// sequence number seen.
func (s *Store) read(path string, visit func(*checkpoint.Checkpoint)) (int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, checkpoint.ErrCheckpointNotFound
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var last int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var cp checkpoint.Checkpoint
		if err := s.codec.Decode(line, &cp); err != nil {
			return 0, fmt.Errorf("%s:%d: decode checkpoint: %w", path, lineNo, err)
		}
		if cp.State == nil {
			cp.State = map[string]any{}
		}
		last = cp.Seq
		visit(&cp)
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	if last == 0 {
		return 0, checkpoint.ErrCheckpointNotFound
	}
	return last, nil
}
