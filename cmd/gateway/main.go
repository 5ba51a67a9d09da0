package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"apikey-gateway/middleware/ratelimit"
	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/domain"
	"apikey-gateway/middleware/ratelimit/infra"
)

var (
	rootCmd = &cobra.Command{
		Use:          "gateway",
		Short:        "Reverse proxy that admits requests per API key (concurrent/active limits)",
		Args:         cobra.NoArgs,
		RunE:         cmdRun,
		SilenceUsage: true,
	}

	// v lê flags e, na ausência delas, variáveis de ambiente (LISTEN_ADDR, UPSTREAM_URL, ...).
	v = viper.New()
)

func init() {
	f := rootCmd.Flags()
	f.String("listen-addr", ":8080", "address to listen on")
	f.String("upstream-url", "", "upstream to proxy admitted requests to (required)")
	f.String("api-key-header", ratelimit.DefaultKeyHeader, "header carrying the caller API key")
	f.String("admin-api-keys", "", "comma separated API keys allowed to change limits")
	f.String("config-prefix", ratelimit.DefaultConfigPrefix, "path prefix of the limits administration API")
	f.String("config-backend", "memory", "where limit values are stored: memory, redis or badger")
	f.String("badger-path", "", "badger directory (empty = in-memory)")
	f.String("redis-addr", "", "redis address, required for the redis config backend and redis stats")
	f.String("redis-password", "", "redis password")
	f.Int("redis-db", 0, "redis database")
	f.String("redis-config-prefix", "ratelimit:config", "redis key prefix for limit values")
	f.Int("default-max-concurrent", domain.DefaultMaxConcurrent, "concurrent limit used when nothing is configured")
	f.Int("default-max-active", domain.DefaultMaxActive, "active limit used when nothing is configured")
	f.Duration("retry-after", 1*time.Second, "Retry-After sent with 429 responses")
	f.Bool("add-ratelimit-headers", false, "expose current limits in X-RateLimit-Limit-* headers")
	f.Duration("reject-log-interval", 10*time.Second, "minimum interval between rejection logs of the same API key")
	f.Bool("stats-enabled", false, "record admission decisions (redis if redis-addr is set, memory otherwise)")
	f.String("stats-prefix", "ratelimit:stats", "redis key prefix for stats")
	f.Duration("stats-ttl", 24*time.Hour, "ttl of per-minute and per-key stats keys")
	f.String("stats-bucket", "minute", "stats time bucket: minute or none")
	f.Bool("stats-track-keys", false, "also count decisions per API key (watch cardinality)")
	f.String("log-level", "info", "debug, info, warn or error")

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(f); err != nil {
		panic(err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func cmdRun(cmd *cobra.Command, _ []string) error {
	cfg, err := readConfig(v)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return errors.New("invalid UPSTREAM_URL: " + err.Error())
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redis.Client
	if cfg.redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			return errors.New("redis ping error: " + err.Error())
		}
	}

	var src domain.ConfigSource
	var rsrc *infra.RedisConfigSource
	switch cfg.configBackend {
	case "redis":
		rsrc = infra.NewRedisConfigSource(rdb, infra.WithConfigPrefix(cfg.redisConfigPrefix))
		src = rsrc
	case "badger":
		bsrc, err := infra.OpenBadgerConfigSource(log.Named("badger"), cfg.badgerPath)
		if err != nil {
			return err
		}
		defer func() { _ = bsrc.Close() }()
		src = bsrc
	default:
		src = infra.NewMemoryConfigSource(nil)
	}

	registry := infra.NewRegistry(src,
		infra.WithRegistryLogger(log.Named("registry")),
		infra.WithDefaults(cfg.defaultMaxConcurrent, cfg.defaultMaxActive),
	)
	configSvc := application.LimitConfigService{Source: src, Registry: registry, Log: log.Named("config")}
	if rsrc != nil {
		// mudanças feitas em outras instâncias chegam por pub/sub.
		defer watchConfig(ctx, log.Named("config"), rsrc, configSvc)()
	}

	var statsStore domain.StatsStore
	if cfg.statsEnabled {
		if rdb != nil {
			statsStore = infra.NewRedisStatsStore(
				rdb,
				infra.WithStatsPrefix(cfg.statsPrefix),
				infra.WithStatsTTL(cfg.statsTTL),
				infra.WithStatsBucket(cfg.statsBucket),
				infra.WithStatsTrackKeys(cfg.statsTrackKeys),
			)
		} else {
			statsStore = infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.statsTrackKeys))
		}
	}

	throttle := infra.NewLogThrottle(cfg.rejectLogInterval, 1)
	throttle.StartJanitor(ctx)

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy error", zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	keyFn := ratelimit.DefaultKeyFunc(cfg.apiKeyHeader)
	protected := ratelimit.Middleware(ratelimit.Options{
		Guard:           application.AdmissionGuard{Registry: registry},
		Stats:           statsStore,
		Throttle:        throttle,
		Log:             log.Named("admission"),
		KeyFn:           keyFn,
		RejectStatus:    http.StatusTooManyRequests,
		RetryAfter:      cfg.retryAfter,
		AddLimitHeaders: cfg.addHeaders,
	})(proxy)

	admin := ratelimit.NewHeaderAdminAuthorizer(keyFn, cfg.adminAPIKeys...)
	routes := http.NewServeMux()
	routes.Handle(cfg.configPrefix+"/", ratelimit.NewConfigHandler(log.Named("config"), configSvc, admin, cfg.configPrefix))
	routes.Handle("/", protected)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           ratelimit.Recover(log)(routes),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("gateway listening", zap.String("addr", cfg.listenAddr), zap.Stringer("upstream", target))
	log.Info("admission",
		zap.String("keyHeader", cfg.apiKeyHeader),
		zap.Int("defaultMaxConcurrent", cfg.defaultMaxConcurrent),
		zap.Int("defaultMaxActive", cfg.defaultMaxActive),
		zap.String("configBackend", cfg.configBackend),
		zap.String("configPrefix", cfg.configPrefix),
		zap.Int("adminKeys", len(cfg.adminAPIKeys)))
	log.Info("stats", zap.Bool("enabled", cfg.statsEnabled), zap.Bool("redis", rdb != nil), zap.String("bucket", cfg.statsBucket))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// watchConfig aplica no registry local as mudanças publicadas por qualquer instância.
// Devolve a função que para o watcher e espera ele terminar.
func watchConfig(ctx context.Context, log *zap.Logger, src *infra.RedisConfigSource, svc application.LimitConfigService) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := src.Watch(ctx, func(name, value string) {
			if err := svc.ApplyChange(ctx, name, value); err != nil {
				log.Warn("ignoring config change", zap.String("name", name), zap.String("value", value), zap.Error(err))
			}
		})
		if err != nil {
			log.Error("config watcher stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

type config struct {
	listenAddr   string
	upstreamURL  string
	apiKeyHeader string
	adminAPIKeys []string
	configPrefix string

	configBackend     string
	badgerPath        string
	redisAddr         string
	redisPassword     string
	redisDB           int
	redisConfigPrefix string

	defaultMaxConcurrent int
	defaultMaxActive     int
	retryAfter           time.Duration
	addHeaders           bool
	rejectLogInterval    time.Duration

	statsEnabled   bool
	statsPrefix    string
	statsTTL       time.Duration
	statsBucket    string
	statsTrackKeys bool

	logLevel string
}

func readConfig(v *viper.Viper) (config, error) {
	cfg := config{}
	cfg.listenAddr = v.GetString("listen-addr")
	cfg.upstreamURL = v.GetString("upstream-url")
	cfg.apiKeyHeader = v.GetString("api-key-header")
	cfg.adminAPIKeys = splitList(v.GetString("admin-api-keys"))
	cfg.configPrefix = strings.TrimSuffix(v.GetString("config-prefix"), "/")

	cfg.configBackend = strings.ToLower(strings.TrimSpace(v.GetString("config-backend")))
	cfg.badgerPath = v.GetString("badger-path")
	cfg.redisAddr = v.GetString("redis-addr")
	cfg.redisPassword = v.GetString("redis-password")
	cfg.redisDB = v.GetInt("redis-db")
	cfg.redisConfigPrefix = v.GetString("redis-config-prefix")

	cfg.defaultMaxConcurrent = v.GetInt("default-max-concurrent")
	cfg.defaultMaxActive = v.GetInt("default-max-active")
	cfg.retryAfter = v.GetDuration("retry-after")
	cfg.addHeaders = v.GetBool("add-ratelimit-headers")
	cfg.rejectLogInterval = v.GetDuration("reject-log-interval")

	cfg.statsEnabled = v.GetBool("stats-enabled")
	cfg.statsPrefix = v.GetString("stats-prefix")
	cfg.statsTTL = v.GetDuration("stats-ttl")
	cfg.statsBucket = v.GetString("stats-bucket")
	cfg.statsTrackKeys = v.GetBool("stats-track-keys")

	cfg.logLevel = v.GetString("log-level")

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.configPrefix == "" {
		return config{}, errors.New("CONFIG_PREFIX must not be empty or /")
	}
	switch cfg.configBackend {
	case "memory", "badger":
	case "redis":
		if cfg.redisAddr == "" {
			return config{}, errors.New("REDIS_ADDR is required when CONFIG_BACKEND=redis")
		}
	default:
		return config{}, errors.New("CONFIG_BACKEND must be memory, redis or badger")
	}
	if cfg.defaultMaxConcurrent < 0 {
		return config{}, errors.New("DEFAULT_MAX_CONCURRENT must be >= 0")
	}
	if cfg.defaultMaxActive < 0 {
		return config{}, errors.New("DEFAULT_MAX_ACTIVE must be >= 0")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
