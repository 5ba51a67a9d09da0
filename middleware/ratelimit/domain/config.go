package domain

import "context"

// Nomes das chaves de configuração reconhecidas pelo limitador.
const (
	MaxConcurrentPerAPIKey = "max.concurrent.req.per.apikey"
	MaxActivePerAPIKey     = "max.active.req.per.apikey"
)

// Valores usados quando a ConfigSource não tem nada para a chave.
const (
	DefaultMaxConcurrent = 6
	DefaultMaxActive     = 2
)

// ConfigSource é um armazenamento chave->valor já persistido e administrado em outro lugar.
//
// Get retorna ok=false quando a chave não existe (ausente não é erro).
type ConfigSource interface {
	Get(ctx context.Context, name string) (value string, ok bool, err error)
	Set(ctx context.Context, name, value string) error
}

// LimitSetting descreve uma chave de configuração do limitador.
type LimitSetting struct {
	Name    string
	Kind    LimitKind
	Default int
	Value   int
}

// Settings lista as chaves reconhecidas, em ordem estável.
var Settings = []LimitSetting{
	{Name: MaxActivePerAPIKey, Kind: Active, Default: DefaultMaxActive},
	{Name: MaxConcurrentPerAPIKey, Kind: Concurrent, Default: DefaultMaxConcurrent},
}

// LookupSetting encontra a chave pelo nome.
func LookupSetting(name string) (LimitSetting, bool) {
	for _, s := range Settings {
		if s.Name == name {
			return s, true
		}
	}
	return LimitSetting{}, false
}

// SettingFor retorna a chave que controla o limite informado.
func SettingFor(kind LimitKind) LimitSetting {
	for _, s := range Settings {
		if s.Kind == kind {
			return s
		}
	}
	return LimitSetting{Kind: kind}
}
