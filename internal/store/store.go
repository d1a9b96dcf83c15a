// Package store defines the persistence collaborators of an editing
// session and their implementations.
package store

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("document not found")

// Saver persists the serialized scene of a document.
type Saver interface {
	Save(ctx context.Context, docID string, data []byte) error
}

// Loader returns the latest serialized scene of a document.
type Loader interface {
	Load(ctx context.Context, docID string) ([]byte, error)
}

type Store interface {
	Saver
	Loader
}

// Memory keeps every saved version in process. It backs the playground
// and tests.
type Memory struct {
	mu       sync.Mutex
	versions map[string][][]byte
}

func NewMemory() *Memory {
	return &Memory{versions: make(map[string][][]byte)}
}

func (m *Memory) Save(ctx context.Context, docID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[docID] = append(m.versions[docID], bytes.Clone(data))
	return nil
}

func (m *Memory) Load(ctx context.Context, docID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := m.versions[docID]
	if len(vs) == 0 {
		return nil, ErrNotFound
	}
	return bytes.Clone(vs[len(vs)-1]), nil
}

// Versions returns how many times docID was saved.
func (m *Memory) Versions(docID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.versions[docID])
}
