package application

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"apikey-gateway/middleware/ratelimit/domain"
)

// LimitConfigService valida e aplica mudanças nas chaves de configuração do limitador.
//
// Só valida semântica de domínio (chave conhecida, inteiro >= 0). Autorização e
// encoding ficam com o adapter HTTP.
type LimitConfigService struct {
	Source   domain.ConfigSource
	Registry domain.PermitRegistry
	Log      *zap.Logger
}

func (s LimitConfigService) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Get devolve o valor atual da chave, ou o default se nunca foi configurada.
func (s LimitConfigService) Get(ctx context.Context, name string) (int, error) {
	setting, ok := domain.LookupSetting(name)
	if !ok {
		return 0, domain.UnknownConfigKey.New("%q", name)
	}
	return s.current(ctx, setting)
}

// GetAll devolve todas as chaves reconhecidas com seus valores atuais, ordenadas por nome.
func (s LimitConfigService) GetAll(ctx context.Context) ([]domain.LimitSetting, error) {
	out := make([]domain.LimitSetting, 0, len(domain.Settings))
	for _, setting := range domain.Settings {
		v, err := s.current(ctx, setting)
		if err != nil {
			return nil, err
		}
		setting.Default = s.defaultFor(setting)
		setting.Value = v
		out = append(out, setting)
	}
	return out, nil
}

func (s LimitConfigService) current(ctx context.Context, setting domain.LimitSetting) (int, error) {
	def := s.defaultFor(setting)
	if s.Source == nil {
		return def, nil
	}
	raw, ok, err := s.Source.Get(ctx, setting.Name)
	if err != nil {
		return 0, domain.ConfigSourceError.Wrap(err)
	}
	if !ok {
		return def, nil
	}
	n, err := parseLimit(raw)
	if err != nil {
		s.logger().Warn("invalid stored limit, using default",
			zap.String("name", setting.Name), zap.String("value", raw), zap.Int("default", def))
		return def, nil
	}
	return n, nil
}

// defaultFor usa o default do registry (o mesmo aplicado aos pools) quando há um.
func (s LimitConfigService) defaultFor(setting domain.LimitSetting) int {
	if s.Registry == nil {
		return setting.Default
	}
	return s.Registry.Default(setting.Kind)
}

// Put grava o novo valor na ConfigSource e redimensiona todos os pools.
func (s LimitConfigService) Put(ctx context.Context, name, raw string) error {
	setting, n, err := validate(name, raw)
	if err != nil {
		return err
	}
	if s.Source == nil {
		return domain.ConfigSourceError.New("no config source configured")
	}
	if err := s.Source.Set(ctx, setting.Name, strconv.Itoa(n)); err != nil {
		return domain.ConfigSourceError.Wrap(err)
	}

	s.logger().Info("limit updated", zap.String("name", setting.Name), zap.Int("value", n))
	return s.resize(ctx, setting, n)
}

// ApplyChange aplica no registry local uma mudança já gravada por outra instância
// (ex.: notificação via Redis). Não escreve de volta na ConfigSource.
func (s LimitConfigService) ApplyChange(ctx context.Context, name, raw string) error {
	setting, n, err := validate(name, raw)
	if err != nil {
		return err
	}
	return s.resize(ctx, setting, n)
}

func (s LimitConfigService) resize(ctx context.Context, setting domain.LimitSetting, n int) error {
	if s.Registry == nil {
		return nil
	}
	return s.Registry.Resize(ctx, "", setting.Kind, n)
}

func validate(name, raw string) (domain.LimitSetting, int, error) {
	setting, ok := domain.LookupSetting(name)
	if !ok {
		return domain.LimitSetting{}, 0, domain.UnknownConfigKey.New("%q", name)
	}
	n, err := parseLimit(raw)
	if err != nil {
		return domain.LimitSetting{}, 0, err
	}
	return setting, n, nil
}

func parseLimit(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, domain.InvalidValue.New("%q is not an integer", raw)
	}
	if n < 0 {
		return 0, domain.InvalidValue.New("%d must be >= 0", n)
	}
	return n, nil
}
