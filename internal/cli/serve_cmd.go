package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lakemart/internal/api"
)

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the pipeline scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx, *envFile)
			if err != nil {
				return err
			}
			defer rt.Close()

			handler := api.NewHandler(rt.app.Pipeline, rt.app.Checkpoints, rt.app.Runs, rt.app.Quarantine)
			router := api.NewRouter(handler, api.RouterConfig{
				RateLimitRPS:       rt.cfg.RateLimitRPS,
				RateLimitBurst:     rt.cfg.RateLimitBurst,
				CORSAllowedOrigins: rt.cfg.CORSAllowedOrigins,
			}, rt.logger)

			rt.app.Scheduler.Start()
			defer rt.app.Scheduler.Stop()

			server := &http.Server{
				Addr:              rt.cfg.ListenAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				rt.logger.Info("api server listening", "addr", rt.cfg.ListenAddr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			rt.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
