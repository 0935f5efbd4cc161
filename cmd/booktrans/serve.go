package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/contextual-book-translator/internal/config"
	"github.com/MimeLyc/contextual-book-translator/internal/httpapi"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newServeCmd(c *cli) *cobra.Command {
	var uiDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workers and the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.Start(); err != nil {
				return err
			}
			srv := httpapi.NewServer(a.svc,
				httpapi.WithUI(uiDir, uiDir != ""),
				httpapi.WithRuntimeSettingsStore(a.settings),
				httpapi.WithRuntimeSettingsApplier(func(config.RuntimeSettings) error {
					return a.svc.Reconfigure()
				}),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, a.cfg.HTTP.Addr, srv)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&uiDir, "ui-dir", "", "Serve a single page app from this directory")
	return cmd
}

// runServer serves until ctx ends, then shuts the server down.
func runServer(ctx context.Context, addr string, srv httpServer) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("HTTP API stopped")
	return nil
}
