package infra

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"apikey-gateway/middleware/ratelimit/domain"
)

// noOverride marca que nenhum Resize global aconteceu para o limite.
const noOverride = -1

// Registry é a implementação de domain.PermitRegistry.
//
// Os pools ficam num sync.Map: escrita uma vez por chave e leitura em toda requisição.
// Chaves nunca são removidas durante a vida do processo.
type Registry struct {
	src      domain.ConfigSource
	log      *zap.Logger
	defaults [len(domain.Kinds)]int

	// overrides guarda o último Resize global por limite (noOverride se nunca houve).
	overrides [len(domain.Kinds)]atomic.Int64

	pools sync.Map // domain.Key -> *permitPool
	len   atomic.Int64
}

type RegistryOption func(*Registry)

func WithRegistryLogger(log *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithDefaults troca os valores usados quando a ConfigSource não tem a chave.
func WithDefaults(concurrent, active int) RegistryOption {
	return func(r *Registry) {
		r.defaults[domain.Concurrent] = concurrent
		r.defaults[domain.Active] = active
	}
}

// NewRegistry cria um registry que dimensiona pools novos a partir de src.
// src pode ser nil: nesse caso só os defaults (e Resize global) são usados.
func NewRegistry(src domain.ConfigSource, opts ...RegistryOption) *Registry {
	r := &Registry{
		src: src,
		log: zap.NewNop(),
	}
	r.defaults[domain.Concurrent] = domain.DefaultMaxConcurrent
	r.defaults[domain.Active] = domain.DefaultMaxActive
	for i := range r.overrides {
		r.overrides[i].Store(noOverride)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PoolFor implementa domain.PermitRegistry.
func (r *Registry) PoolFor(ctx context.Context, key domain.Key) domain.PermitPool {
	return r.poolFor(ctx, key)
}

func (r *Registry) poolFor(ctx context.Context, key domain.Key) *permitPool {
	if v, ok := r.pools.Load(key); ok {
		return v.(*permitPool)
	}

	// create pode rodar mais de uma vez para a mesma chave em corrida,
	// mas só um pool é armazenado e devolvido a todos.
	created := newPermitPool(r.capacity(ctx, domain.Concurrent), r.capacity(ctx, domain.Active))
	v, loaded := r.pools.LoadOrStore(key, created)
	if loaded {
		return v.(*permitPool)
	}
	r.len.Add(1)

	r.applyOverrides(created)
	r.log.Debug("permit pool created",
		zap.String("key", redactKey(key)),
		zap.Int("concurrent", created.Capacity(domain.Concurrent)),
		zap.Int("active", created.Capacity(domain.Active)))
	return created
}

// applyOverrides reaplica os overrides globais num pool recém armazenado: um Resize global
// concorrente pode ter rodado entre a leitura da config e o Store. Limites já fixados por um
// Resize da própria chave não são tocados.
func (r *Registry) applyOverrides(p *permitPool) {
	for _, kind := range domain.Kinds {
		if n := r.overrides[kind].Load(); n != noOverride {
			p.applyOverride(kind, int(n))
		}
	}
}

// capacity decide o tamanho inicial de um limite: override global, ConfigSource e default, nessa ordem.
func (r *Registry) capacity(ctx context.Context, kind domain.LimitKind) int {
	if n := r.overrides[kind].Load(); n != noOverride {
		return int(n)
	}
	def := r.defaults[kind]
	if r.src == nil {
		return def
	}

	name := domain.SettingFor(kind).Name
	raw, ok, err := r.src.Get(ctx, name)
	if err != nil {
		r.log.Warn("config source unavailable, using default", zap.String("name", name), zap.Int("default", def), zap.Error(err))
		return def
	}
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		r.log.Warn("invalid stored limit, using default", zap.String("name", name), zap.String("value", raw), zap.Int("default", def))
		return def
	}
	return n
}

// Resize implementa domain.PermitRegistry.
//
// key vazia: grava o override global e redimensiona todos os pools existentes,
// inclusive os que tinham teto próprio.
// key preenchida: redimensiona somente o pool daquela chave (criando se preciso).
func (r *Registry) Resize(ctx context.Context, key domain.Key, kind domain.LimitKind, capacity int) error {
	if capacity < 0 {
		return domain.InvalidValue.New("capacity must be >= 0, got %d", capacity)
	}
	if int(kind) < 0 || int(kind) >= len(domain.Kinds) {
		return domain.InvalidValue.New("unknown limit kind %d", int(kind))
	}

	if key != "" {
		r.poolFor(ctx, key).Resize(kind, capacity)
		return nil
	}

	r.overrides[kind].Store(int64(capacity))
	resized := 0
	r.pools.Range(func(_, v any) bool {
		v.(*permitPool).resizeGlobal(kind, capacity)
		resized++
		return true
	})
	r.log.Info("permit pools resized", zap.Stringer("kind", kind), zap.Int("capacity", capacity), zap.Int("pools", resized))
	return nil
}

// Default implementa domain.PermitRegistry.
func (r *Registry) Default(kind domain.LimitKind) int {
	if int(kind) < 0 || int(kind) >= len(r.defaults) {
		return 0
	}
	return r.defaults[kind]
}

// Len é o número de pools criados até agora.
func (r *Registry) Len() int { return int(r.len.Load()) }

// PoolStatus é uma foto (não atômica entre os campos) do estado de um pool.
type PoolStatus struct {
	Capacity    [len(domain.Kinds)]int
	Outstanding [len(domain.Kinds)]int
}

// Snapshot devolve o estado do pool da chave, sem criá-lo.
func (r *Registry) Snapshot(key domain.Key) (PoolStatus, bool) {
	v, ok := r.pools.Load(key)
	if !ok {
		return PoolStatus{}, false
	}
	p := v.(*permitPool)
	var st PoolStatus
	for _, kind := range domain.Kinds {
		st.Capacity[kind] = p.Capacity(kind)
		st.Outstanding[kind] = p.Outstanding(kind)
	}
	return st, true
}

// redactKey evita escrever a API key inteira nos logs.
func redactKey(key domain.Key) string {
	s := string(key)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
