package infra

import (
	"sync"

	"apikey-gateway/middleware/ratelimit/domain"
)

// permitPool é o PermitPool de uma API key: um Semaphore por LimitKind.
//
// mu só serializa mudanças de teto; TryAcquire/Release não passam por ele.
type permitPool struct {
	sems [len(domain.Kinds)]*Semaphore

	mu sync.Mutex
	// pinned marca limites redimensionados para esta chave especificamente.
	pinned [len(domain.Kinds)]bool
}

func newPermitPool(concurrent, active int) *permitPool {
	p := &permitPool{}
	p.sems[domain.Concurrent] = NewSemaphore(concurrent)
	p.sems[domain.Active] = NewSemaphore(active)
	return p
}

func (p *permitPool) sem(kind domain.LimitKind) *Semaphore {
	if int(kind) < 0 || int(kind) >= len(p.sems) {
		panic("ratelimit: unknown limit kind " + kind.String())
	}
	return p.sems[kind]
}

func (p *permitPool) TryAcquire(kind domain.LimitKind) bool { return p.sem(kind).TryAcquire() }
func (p *permitPool) Release(kind domain.LimitKind)         { p.sem(kind).Release() }
func (p *permitPool) Capacity(kind domain.LimitKind) int    { return p.sem(kind).Capacity() }
func (p *permitPool) Outstanding(kind domain.LimitKind) int { return p.sem(kind).Outstanding() }
func (p *permitPool) Available(kind domain.LimitKind) int   { return p.sem(kind).Available() }

// Resize fixa o teto desta chave; overrides globais atrasados não o sobrescrevem.
func (p *permitPool) Resize(kind domain.LimitKind, n int) {
	s := p.sem(kind)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned[kind] = true
	s.Resize(n)
}

// resizeGlobal aplica um Resize global, que vence o teto próprio da chave.
func (p *permitPool) resizeGlobal(kind domain.LimitKind, n int) {
	s := p.sem(kind)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned[kind] = false
	s.Resize(n)
}

func (p *permitPool) applyOverride(kind domain.LimitKind, n int) {
	s := p.sem(kind)
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pinned[kind] {
		s.Resize(n)
	}
}
