package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/infra"
)

func main() {
	// Exemplo: injetando a admissão diretamente no seu webserver (sem proxy)
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src := infra.NewMemoryConfigSource(nil)
	registry := infra.NewRegistry(src, infra.WithRegistryLogger(log.Named("registry")))
	throttle := infra.NewLogThrottle(10*time.Second, 1)
	throttle.StartJanitor(ctx)

	h := newHandler(serverOptions{
		Log:       log,
		Registry:  registry,
		ConfigSvc: application.LimitConfigService{Source: src, Registry: registry, Log: log.Named("config")},
		Throttle:  throttle,
		AdminKeys: strings.Split(os.Getenv("ADMIN_API_KEYS"), ","),
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}
