package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/apollographql/router-sub000/gateway"
	"github.com/apollographql/router-sub000/registry"
)

type server struct {
	registry        *registry.Registry
	graphqlEndpoint string
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/schema/registration":
		if req.Method == http.MethodPost {
			s.registry.RegisterGateway(w, req)
		} else {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case s.graphqlEndpoint:
		if req.Method == http.MethodPost {
			s.registry.AppliedGateway().ServeHTTP(w, req)
		} else {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, req)
	}
}

// Run loads the gateway configuration, composes the initial supergraph
// and serves until SIGTERM or interrupt, then shuts down gracefully.
func Run(configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	settings, err := gateway.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	if settings.Opentelemetry.TracingSetting.Enable {
		shutdownTracing, err := setupTracing(ctx, settings)
		if err != nil {
			return err
		}
		defer shutdownTracing(context.Background())
	}

	gw, err := gateway.NewGateway(settings, logger)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	reg := registry.NewRegistry(gw, logger)
	go reg.Start()

	endpoint := settings.Endpoint
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", settings.Port),
		Handler: &server{
			registry:        reg,
			graphqlEndpoint: endpoint,
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			zap.Int("port", settings.Port),
			zap.String("endpoint", endpoint))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
