package storage

import (
	"sync"

	"raftcore/raft"
)

// MemoryProperties is the in-memory counterpart of BoltProperties, used
// in tests and by nodes that don't need durability.
type MemoryProperties struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryProperties() *MemoryProperties {
	return &MemoryProperties{values: make(map[string][]byte)}
}

func (p *MemoryProperties) Write(patch map[string][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, value := range patch {
		p.values[key] = append([]byte(nil), value...)
	}
	return nil
}

func (p *MemoryProperties) Get(key string) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (p *MemoryProperties) Delete(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
	return nil
}

func (p *MemoryProperties) Close() error { return nil }

var _ raft.PropertiesStore = (*MemoryProperties)(nil)
