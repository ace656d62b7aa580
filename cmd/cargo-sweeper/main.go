package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lidercargo/cargotrack/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	s, closeFn, err := buildSweeper(cfg, defaultSweeperFactories())
	if err != nil {
		panic(err)
	}
	defer closeFn()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		err := runSweeperHTTPServer(ctx, sweeperHTTPOpts{
			httpAddr:    cfg.CargoTrack.SweeperHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			sweeper:     s,
			cfg:         cfg,
		})
		if err != nil {
			slog.Error("sweeper http server stopped", "error", err)
		}
	}()

	if err := s.Run(ctx); err != nil && err != context.Canceled {
		panic(err)
	}
}
