package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/codecctl/internal/admin"
	"github.com/danmuck/codecctl/internal/auth"
	"github.com/danmuck/codecctl/internal/config"
	"github.com/danmuck/codecctl/internal/fanout"
	"github.com/danmuck/codecctl/internal/fleet"
	"github.com/danmuck/codecctl/internal/logging"
	"github.com/danmuck/codecctl/internal/observability"
)

func main() {
	path := flag.String("config", "cmd/codecctl/ex.config.toml", "service config path")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintf(os.Stderr, "codecctl: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	logging.ConfigureRuntime()

	cfg, err := loadServiceConfig(path)
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.ID)

	inv, err := config.LoadInventory(cfg.InventoryPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, closeBrokers, err := fanout.Dial(ctx, fanout.Endpoints{
		NATSURL:   cfg.NATSURL,
		RedisAddr: cfg.RedisAddr,
		Config:    fanout.Config{SubjectPrefix: cfg.SubjectPrefix, StateTTL: cfg.StateTTL},
	})
	if err != nil {
		return err
	}
	defer closeBrokers()

	rt := fleet.New(cfg.Fleet, fleet.WithForwarder(sink))
	for _, c := range inv.Enabled() {
		if err := rt.Add(c, config.Dialer(c, cfg.Fleet.DialTimeout)); err != nil {
			return err
		}
	}

	var validator auth.Validator
	if cfg.AdminToken != "" {
		validator = auth.StaticToken{Token: cfg.AdminToken}
	} else {
		log.Warn().Msg("codecctl: admin_token not set, admin API is unauthenticated")
	}
	srv := admin.New(admin.Config{
		ID:          cfg.ID,
		CorsOrigins: cfg.CorsOrigins,
		Auth:        validator,
	}, rt)
	httpSrv := &http.Server{Addr: cfg.AdminAddr, Handler: srv.Handler()}
	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("codecctl: admin listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("codecctl: admin server failed")
			stop()
		}
	}()

	log.Info().Int("codecs", len(inv.Enabled())).Str("inventory", cfg.InventoryPath).Msg("codecctl: fleet starting")
	err = rt.Run(ctx)
	_ = httpSrv.Close()
	log.Info().Msg("codecctl: stopped")
	return err
}
