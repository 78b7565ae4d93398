package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/artifact"
	"github.com/NicoCuadrado/Barrio-seguro/internal/gate"
	"github.com/NicoCuadrado/Barrio-seguro/internal/recorder"
	"github.com/NicoCuadrado/Barrio-seguro/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gate session and its HTTP API",
	Long: `Start a gate session and expose it over HTTP.

Frames with precomputed face embeddings are posted to /api/v1/frames. The
session recognizes residents, tracks visitors, writes the access log and
sweeps expired visitors in the background until the process is stopped.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// openSession wires a gate session around the app's store. The session takes
// ownership of the store, the returned cleanup closes the session and the
// optional Redis cooldown table.
func openSession(ctx context.Context, a *app) (*gate.Session, func(), error) {
	crops, err := artifact.NewCropStore(a.cfg.Gate.CropDir, artifact.WithLogger(a.logger))
	if err != nil {
		return nil, nil, err
	}

	deps := gate.Deps{
		Store:  a.store,
		Crops:  crops,
		Logger: a.logger,
	}

	var redisCooldown *recorder.RedisCooldown
	if a.cfg.Redis.URL != "" {
		redisCooldown, err = recorder.NewRedisCooldown(ctx, a.cfg.Redis.URL, a.cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		deps.Cooldown = redisCooldown
		a.logger.Info("using redis cooldown table")
	}

	opts := gate.OptionsFromConfig(a.cfg.Gate)
	opts.OwnsStore = true
	session, err := gate.New(deps, opts)
	if err != nil {
		if redisCooldown != nil {
			redisCooldown.Close()
		}
		return nil, nil, err
	}
	// The session closes the store from now on.
	a.store = nil

	cleanup := func() {
		if err := session.Close(); err != nil {
			a.logger.Warn("closing gate session", zap.Error(err))
		}
		if redisCooldown != nil {
			if err := redisCooldown.Close(); err != nil {
				a.logger.Warn("closing redis", zap.Error(err))
			}
		}
	}
	return session, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Web.Host = host
	}

	events := a.store
	session, cleanup, err := openSession(ctx, a)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("starting gate session: %w", err)
	}

	server := web.NewServer(&a.cfg.Web, web.Deps{
		Gate:       session,
		Events:     events,
		VisitorTTL: a.cfg.Gate.VisitorTTL,
		Logger:     a.logger,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Barrio Seguro listening on http://%s\n", a.cfg.Web.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
