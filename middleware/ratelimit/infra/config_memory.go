package infra

import (
	"context"
	"sync"
)

// MemoryConfigSource é uma ConfigSource em memória.
// Útil para testes, desenvolvimento e gateways de instância única sem persistência.
type MemoryConfigSource struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryConfigSource(initial map[string]string) *MemoryConfigSource {
	s := &MemoryConfigSource{values: make(map[string]string, len(initial))}
	for k, v := range initial {
		s.values[k] = v
	}
	return s
}

func (s *MemoryConfigSource) Get(_ context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok, nil
}

func (s *MemoryConfigSource) Set(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}
