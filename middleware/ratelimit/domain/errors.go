package domain

import (
	"errors"
	"fmt"

	"github.com/zeebo/errs"
)

var (
	// UnknownConfigKey é a classe de erro para chaves de configuração não reconhecidas.
	UnknownConfigKey = errs.Class("unknown config key")
	// InvalidValue é a classe de erro para valores que não são inteiros não negativos.
	InvalidValue = errs.Class("invalid value")
	// ConfigSourceError envolve falhas do armazenamento de configuração.
	ConfigSourceError = errs.Class("config source")

	// ErrEmptyKey é retornado quando a requisição não traz API key.
	ErrEmptyKey = errors.New("empty api key")
)

// RateLimitExceededError indica que a admissão foi negada por um dos limites.
// Nunca indica defeito: o cliente pode tentar de novo mais tarde.
type RateLimitExceededError struct {
	Kind LimitKind
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("too many concurrent requests for this API key (%s limit)", e.Kind)
}

// IsRateLimitExceeded informa se err (ou algo que ele envolve) é uma rejeição de admissão,
// e qual limite rejeitou.
func IsRateLimitExceeded(err error) (LimitKind, bool) {
	var rle *RateLimitExceededError
	if errors.As(err, &rle) {
		return rle.Kind, true
	}
	return 0, false
}
