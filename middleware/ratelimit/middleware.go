package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/domain"
)

// DefaultKeyHeader é o header que carrega a API key quando nada é configurado.
const DefaultKeyHeader = "X-Auth-Token"

type KeyFunc func(r *http.Request) string

type Options struct {
	Guard application.AdmissionGuard
	// Stats e Throttle são opcionais.
	Stats domain.StatsStore
	// Throttle limita quantos logs de rejeição cada chave pode gerar.
	Throttle domain.LimiterStore
	Log      *zap.Logger

	KeyFn        KeyFunc
	KeyHeader    string
	RejectStatus int
	RetryAfter   time.Duration
	// AddLimitHeaders expõe os tetos atuais da chave em X-RateLimit-Limit-*.
	AddLimitHeaders bool
}

// DefaultKeyFunc lê a API key do header informado e, na falta dele, de "Authorization: Bearer".
func DefaultKeyFunc(keyHeader string) KeyFunc {
	if keyHeader == "" {
		keyHeader = DefaultKeyHeader
	}
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
			return v
		}
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(auth) > len("bearer ") && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
			return strings.TrimSpace(auth[len("bearer "):])
		}
		return ""
	}
}

// Middleware aplica a admissão por API key em volta de next.
//
// Requisições sem chave recebem 401. Rejeições recebem RejectStatus (429 por padrão).
// Falhas de next (status de erro escrito por ele ou panic) passam sem alteração;
// as vagas são liberadas antes.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader)
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := domain.Key(opts.KeyFn(r))
			if key == "" {
				http.Error(w, "missing API key", http.StatusUnauthorized)
				return
			}

			if opts.AddLimitHeaders && opts.Guard.Registry != nil {
				pool := opts.Guard.Registry.PoolFor(r.Context(), key)
				w.Header().Set("X-RateLimit-Limit-Concurrent", formatInt(pool.Capacity(domain.Concurrent)))
				w.Header().Set("X-RateLimit-Limit-Active", formatInt(pool.Capacity(domain.Active)))
			}

			permit, err := opts.Guard.Enter(r.Context(), key)
			kind, limited := domain.IsRateLimitExceeded(err)
			record(r, opts.Stats, key, err == nil, kind)

			if err != nil {
				if !limited {
					opts.Log.Error("admission failed", zap.Error(err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				if opts.Throttle == nil || opts.Throttle.Get(key).Allow() {
					opts.Log.Warn("too many concurrent requests",
						zap.String("key", redact(key)),
						zap.Stringer("limit", kind),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path))
				}
				w.Header().Set("Retry-After", formatInt(int(opts.RetryAfter.Seconds())))
				http.Error(w, err.Error(), opts.RejectStatus)
				return
			}
			defer permit.Release()

			next.ServeHTTP(w, r)
		})
	}
}

func record(r *http.Request, stats domain.StatsStore, key domain.Key, allowed bool, kind domain.LimitKind) {
	if stats == nil {
		return
	}
	_ = stats.Record(r.Context(), domain.StatsEvent{
		Key:     key,
		Allowed: allowed,
		Kind:    kind,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	})
}

func redact(key domain.Key) string {
	if len(key) <= 4 {
		return "****"
	}
	return string(key[:4]) + "****"
}
