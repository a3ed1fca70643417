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

	"github.com/poofware/passkey-service/internal/app"
	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	utils.InitLogger(config.AppName)
	cfg := config.LoadConfig()

	application, err := app.NewApp(cfg)
	if err != nil {
		utils.Logger.Fatal("Failed to initialize application:", err)
	}
	defer application.Close()

	server := app.NewServer(application)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Scheduler.Start(ctx); err != nil {
		utils.Logger.WithError(err).Fatal("Failed to start maintenance scheduler")
	}
	defer server.Scheduler.Stop()

	httpServer := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           server.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		utils.Logger.Fatal("Failed to start server:", err)
	}
	utils.Logger.Infof("Starting %s on port: %s (storage: %s)", cfg.AppName, cfg.AppPort, application.StorageBackend())
	if err := serve(ctx, httpServer, ln, shutdownTimeout); err != nil {
		utils.Logger.WithError(err).Error("HTTP server stopped with error")
	}
}

// serve runs srv on ln until ctx is done, then returns once in-flight
// requests have drained or timeout has elapsed.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	drained := make(chan error, 1)
	go func() {
		<-ctx.Done()
		utils.Logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		drained <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-drained
}
