package partition

import (
	"context"
	"sort"
	"sync"
	"time"

	"offlinecache/internal/domain"
)

// MemoryStore はプロセス内に保持するパーティションストア
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
}

var _ domain.PartitionStore = (*MemoryStore)(nil)

// NewMemoryStore は新しいMemoryStoreインスタンスを作成
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		partitions: make(map[string]*memoryPartition),
	}
}

// Open はパーティションを返し、なければ作成する
func (s *MemoryStore) Open(_ context.Context, name string) (domain.Partition, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.partitions[name]; ok {
		return p, nil
	}

	p := &memoryPartition{
		name:    name,
		entries: make(map[string]*domain.Response),
	}
	s.partitions[name] = p
	return p, nil
}

// Names はパーティション名の一覧を返す
func (s *MemoryStore) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete はパーティションを削除する.
// 削除後のハンドルへの書き込みは破棄される.
func (s *MemoryStore) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	p, ok := s.partitions[name]
	delete(s.partitions, name)
	s.mu.Unlock()

	if !ok {
		return false, nil
	}

	p.mu.Lock()
	p.deleted = true
	p.entries = nil
	p.mu.Unlock()
	return true, nil
}

type memoryPartition struct {
	mu      sync.RWMutex
	name    string
	entries map[string]*domain.Response
	deleted bool
}

func (p *memoryPartition) Name() string {
	return p.name
}

func (p *memoryPartition) Match(_ context.Context, req *domain.Request) (*domain.Response, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	resp, ok := p.entries[req.Key()]
	if !ok {
		return nil, false, nil
	}
	return resp.Clone(), true, nil
}

func (p *memoryPartition) Put(_ context.Context, req *domain.Request, resp *domain.Response) error {
	if !req.IsGet() {
		return ErrUnsupportedMethod
	}

	stored := resp.Clone()
	stored.FromCache = true
	stored.StoredAt = time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deleted {
		return nil
	}
	p.entries[req.Key()] = stored
	return nil
}

func (p *memoryPartition) Keys(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
