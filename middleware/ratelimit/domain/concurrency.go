package domain

import "context"

// LimitKind enumera os dois limites controlados por API key.
type LimitKind int

const (
	// Concurrent limita requisições simultâneas dentro do ciclo de vida inteiro da requisição.
	Concurrent LimitKind = iota
	// Active limita quantas operações protegidas executam ao mesmo tempo.
	Active
)

// Kinds lista os limites na ordem de aquisição: Concurrent primeiro, depois Active.
var Kinds = [...]LimitKind{Concurrent, Active}

func (k LimitKind) String() string {
	switch k {
	case Concurrent:
		return "concurrent"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// PermitPool guarda um semáforo de contagem por LimitKind para uma única chave.
//
// Todas as operações são seguras para uso concorrente sem sincronização externa.
// TryAcquire nunca bloqueia. Resize altera apenas o teto para aquisições futuras:
// permits já concedidos continuam válidos mesmo que o novo teto seja menor.
type PermitPool interface {
	TryAcquire(kind LimitKind) bool
	Release(kind LimitKind)
	Resize(kind LimitKind, capacity int)
	Capacity(kind LimitKind) int
	Outstanding(kind LimitKind) int
	Available(kind LimitKind) int
}

// PermitRegistry mapeia API keys para PermitPools, criados sob demanda.
//
// PoolFor cria o pool exatamente uma vez por chave, mesmo sob chamadas concorrentes.
// Resize com key vazia é global: vale para todos os pools existentes e futuros.
// Default é o teto usado quando a ConfigSource não tem valor para o limite.
type PermitRegistry interface {
	PoolFor(ctx context.Context, key Key) PermitPool
	Resize(ctx context.Context, key Key, kind LimitKind, capacity int) error
	Default(kind LimitKind) int
}
