// Package main - HTTP-сервер для сегментированных сканирований и TDR на NanoVNA.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momentics/govna-tdr/internal/config"
	"github.com/momentics/govna-tdr/pkg/govna"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("ошибка загрузки конфигурации")
	}
	zerolog.SetGlobalLevel(cfg.Server.LogLevel)

	metrics := govna.NewMetrics(prometheus.DefaultRegisterer)
	pool := govna.NewVNAPool(
		govna.WithPortOptions(cfg.Serial),
		govna.WithLinkOptions(govna.WithCommandTimeout(cfg.Sweep.CommandTimeout)),
		govna.WithVNAOptions(
			govna.WithVNAMetrics(metrics),
			govna.WithSweepOptions(cfg.CoordinatorOptions()...),
		),
		govna.WithPoolLogger(log.Logger),
	)
	defer pool.CloseAll()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(newAPI(pool, cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("сервер запущен")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ошибка HTTP сервера")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("сервер останавливается...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("ошибка при корректном завершении сервера")
	}
	log.Info().Msg("сервер успешно остановлен")
}
