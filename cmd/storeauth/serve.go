package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
	"github.com/yanlnery/glowing-docs-portal-sub000/internal/debugapi"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	var (
		addr         string
		demoEmail    string
		demoPassword string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a controller and expose its state on the debug HTTP endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := buildStack(ctx, stackOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			if addr == "" {
				infra, err := loadInfraConfig(ctx)
				if err != nil {
					return err
				}
				addr = infra.DebugAddr
			}

			if demoEmail != "" {
				if err := seedDemoSession(ctx, s, demoEmail, demoPassword); err != nil {
					return err
				}
			}

			router, err := debugapi.NewRouter(s.controller, s.logger.Named("debugapi"))
			if err != nil {
				return err
			}
			return serveHTTP(ctx, addr, router, s.logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to STOREAUTH_DEBUG_ADDR)")
	cmd.Flags().StringVar(&demoEmail, "demo-email", "", "Register and sign in this customer before serving")
	cmd.Flags().StringVar(&demoPassword, "demo-password", "cascavel-2026", "Password for the demo customer")
	return cmd
}

func seedDemoSession(ctx context.Context, s *stack, email, password string) error {
	ctx = storeauth.WithClientIP(ctx, "127.0.0.1")
	if _, err := s.controller.SignUp(ctx, storeauth.SignUpRequest{
		Email:     email,
		Password:  password,
		FirstName: "Demo",
	}); err != nil {
		return fmt.Errorf("seed demo customer: %w", err)
	}
	if err := s.controller.Flush(ctx); err != nil {
		return err
	}
	s.logger.Info("demo customer signed in", zap.String("email", email))
	return nil
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("debug server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("shutting down debug server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
