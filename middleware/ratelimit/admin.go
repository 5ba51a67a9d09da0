package ratelimit

import (
	"crypto/subtle"
	"net/http"
)

// AdminAuthorizer decide se quem fez a requisição tem papel de administrador.
type AdminAuthorizer interface {
	IsAdmin(r *http.Request) bool
}

type AdminAuthorizerFunc func(r *http.Request) bool

func (f AdminAuthorizerFunc) IsAdmin(r *http.Request) bool { return f(r) }

// HeaderAdminAuthorizer considera administrador quem apresenta uma das API keys configuradas.
type HeaderAdminAuthorizer struct {
	keyFn KeyFunc
	keys  [][]byte
}

func NewHeaderAdminAuthorizer(keyFn KeyFunc, adminKeys ...string) *HeaderAdminAuthorizer {
	if keyFn == nil {
		keyFn = DefaultKeyFunc("")
	}
	a := &HeaderAdminAuthorizer{keyFn: keyFn}
	for _, k := range adminKeys {
		if k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

func (a *HeaderAdminAuthorizer) IsAdmin(r *http.Request) bool {
	got := []byte(a.keyFn(r))
	if len(got) == 0 {
		return false
	}
	admin := 0
	for _, k := range a.keys {
		admin |= subtle.ConstantTimeCompare(got, k)
	}
	return admin == 1
}
