package application

import (
	"context"
	"sync/atomic"

	"github.com/spacemonkeygo/monkit/v3"

	"apikey-gateway/middleware/ratelimit/domain"
)

var mon = monkit.Package()

// AdmissionGuard concentra a regra de aquisição/liberação de vagas por API key,
// sem saber nada sobre HTTP.
//
// A aquisição nunca espera: sem vaga, a rejeição é imediata.
type AdmissionGuard struct {
	Registry domain.PermitRegistry
}

// Permit representa as duas vagas (Concurrent e Active) de uma admissão.
// Release pode ser chamado mais de uma vez; só a primeira chamada libera.
type Permit struct {
	pool     domain.PermitPool
	released atomic.Bool
}

func (p *Permit) Release() {
	if p == nil || p.pool == nil {
		return
	}
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	p.pool.Release(domain.Active)
	p.pool.Release(domain.Concurrent)
}

// Enter tenta reservar as vagas da chave: primeiro Concurrent, depois Active.
//
// Se Concurrent estiver cheio, Active nem é tentado. Se Active estiver cheio, a vaga
// Concurrent recém adquirida é devolvida antes de retornar. Em caso de erro nada fica retido.
// Em caso de sucesso quem chama deve chamar Release exatamente uma vez; prefira Do.
func (g AdmissionGuard) Enter(ctx context.Context, key domain.Key) (*Permit, error) {
	if key == "" {
		return nil, domain.ErrEmptyKey
	}
	if g.Registry == nil {
		return &Permit{}, nil
	}

	pool := g.Registry.PoolFor(ctx, key)
	if !pool.TryAcquire(domain.Concurrent) {
		return nil, reject(domain.Concurrent)
	}
	if !pool.TryAcquire(domain.Active) {
		pool.Release(domain.Concurrent)
		return nil, reject(domain.Active)
	}

	mon.Counter("admission", monkit.NewSeriesTag("result", "admitted")).Inc(1)
	return &Permit{pool: pool}, nil
}

func reject(kind domain.LimitKind) error {
	mon.Counter("admission",
		monkit.NewSeriesTag("result", "rejected"),
		monkit.NewSeriesTag("kind", kind.String())).Inc(1)
	return &domain.RateLimitExceededError{Kind: kind}
}

// Do executa fn dentro de uma admissão: Enter, fn, Release.
//
// A liberação fica num defer, então vale para retorno normal, erro de fn, panic
// (que segue propagando depois da liberação) e cancelamento de ctx.
// Erros de fn voltam sem alteração.
func (g AdmissionGuard) Do(ctx context.Context, key domain.Key, fn func(ctx context.Context) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	permit, err := g.Enter(ctx, key)
	if err != nil {
		return err
	}
	defer permit.Release()

	return fn(ctx)
}
