package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/webmclip/internal/adapter/engine/ffmpeg"
	httpadapter "github.com/bnema/webmclip/internal/adapter/http"
	"github.com/bnema/webmclip/internal/adapter/http/validation"
	"github.com/bnema/webmclip/internal/adapter/inbox"
	"github.com/bnema/webmclip/internal/infrastructure/logger"
	"github.com/bnema/webmclip/internal/service"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web dashboard, HTTP API, queue worker and inbox watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.WithComponent("serve")

			engine, err := ffmpeg.NewEngine(engineOptions(cfg))
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close() //nolint:errcheck

			var watcher *inbox.Watcher
			if cfg.InboxDir != "" {
				if st.queue == nil {
					return errQueueUnavailable
				}
				watcher, err = inbox.New(st.queue, inbox.Options{
					Dir:     cfg.InboxDir,
					Accepts: cfg.Policy.Accepts,
					Check:   validation.CheckInputFile,
				})
				if err != nil {
					return err
				}
			}

			auth := service.NewTokenAuth(cfg.AuthTokenHash)
			if !auth.Enabled() {
				log.Warn().Msg("AUTH_TOKEN_HASH is not set, the control surface is open to anyone who can reach it")
			}

			bus := service.NewEventBus()
			ctrl := service.NewController(cfg.Policy, engine, st.history, bus)

			server := httpadapter.NewServer(httpadapter.ServerConfig{
				Auth:       auth,
				Controller: ctrl,
				EventBus:   bus,
				Handlers: httpadapter.HandlerOptions{
					Queue:        st.queue,
					History:      st.history,
					DataDir:      cfg.DataDir,
					MinFreeBytes: cfg.MinFreeBytes(),
					Version:      version,
				},
				BehindProxy:        cfg.BehindProxy,
				MutationsPerMinute: cfg.RateLimit,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, gctx := errgroup.WithContext(ctx)

			httpServer := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           server,
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       120 * time.Second,
				// Event streams end when the group stops.
				BaseContext: func(net.Listener) context.Context { return gctx },
			}

			g.Go(func() error {
				log.Info().Str("addr", httpServer.Addr).Str("version", version).Msg("server listening")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				log.Info().Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("http shutdown error")
				}
				return ctrl.Shutdown(shutdownCtx)
			})

			if st.queue != nil {
				worker := service.NewWorker(st.queue, ctrl, service.WorkerOptions{})
				g.Go(func() error { return worker.Run(gctx) })
			} else {
				log.Info().Msg("batch queue disabled with the JSON store")
			}

			if watcher != nil {
				g.Go(func() error { return watcher.Run(gctx) })
			}

			err = g.Wait()
			log.Info().Msg("shutdown complete")
			return err
		},
	}
}
