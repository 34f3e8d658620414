package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lovelore/config"
	"lovelore/metrics"
	"lovelore/server"
)

func newServeCmd() *cobra.Command {
	var (
		addr string
		dev  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ServerAddr = addr
			}
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			a, err := buildApp(cfg, log, false)
			if err != nil {
				return err
			}

			var auth server.Authenticator
			switch {
			case a.supabase != nil:
				auth = server.NewSupabaseAuthenticator(a.supabase)
			case dev:
				log.Warn("dev mode: requests without a token run as user \"dev\"")
				auth = server.StaticAuthenticator{DefaultUser: "dev"}
			default:
				return errors.New("supabase is not configured; set supabase.url or run with --dev")
			}

			srv, err := server.New(server.Options{
				Catalog:  a.catalog,
				Engine:   a.engine,
				Upstream: a.client,
				Defaults: server.ChatDefaults{
					Model:       cfg.LLM.Model,
					Temperature: cfg.LLM.Temperature,
					MaxTokens:   cfg.LLM.MaxTokens,
				},
				Auth:        auth,
				Metrics:     metrics.NewCollector("lovelore"),
				Logger:      log,
				CORSOrigins: cfg.CORSOrigins,
			})
			if err != nil {
				return err
			}
			return listen(cmd.Context(), log, cfg.ServerAddr, srv.Routes())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config server_addr)")
	cmd.Flags().BoolVar(&dev, "dev", false, "accept unauthenticated requests as a local dev user")
	return cmd
}

// listen serves until SIGINT/SIGTERM, then drains open requests.
func listen(parent context.Context, log *zap.Logger, addr string, h http.Handler) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hs := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("starting web server", zap.String("addr", addr))
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}
