package domain

// Camada de domínio do controle de admissão.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

// Key identifica o tenant/principal (API key). Nunca vazia dentro do registry.
type Key string

// Limiter representa algo que pode decidir se uma ação é permitida agora.
//
// Usado para limitar a taxa de logs de rejeição por chave; a camada de infra
// usa golang.org/x/time/rate.
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave (ex: API key).
// A implementação pode manter cache, TTL, etc.
type LimiterStore interface {
	Get(Key) Limiter
}
