package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sightline/internal/api"
	"github.com/sells-group/sightline/internal/identity"
	"github.com/sells-group/sightline/internal/progress"
	"github.com/sells-group/sightline/internal/sweeper"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the summarization API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initServer(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		apiSrv := api.New(env.Coordinator, env.Progress, env.Store, identity.NewResolver(cfg.Auth),
			api.WithUsage(env.Engine),
			api.WithBreakers(env.Breakers),
			api.WithCORSOrigins(cfg.Server.CORSOrigins),
			api.WithTrustedProxy(cfg.Server.TrustProxyHeaders),
		)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           apiSrv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		var ps progress.Sweeper
		if s, ok := env.Progress.(progress.Sweeper); ok {
			ps = s
		}
		sw := sweeper.New(ps, env.Store, cfg.Sweeper)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			sw.Run(gctx)
			return nil
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")

			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
			if err := apiSrv.Wait(sctx); err != nil {
				zap.L().Warn("async jobs still running at shutdown", zap.Error(err))
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
