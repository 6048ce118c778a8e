package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/internal/devserver"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
)

var (
	serveAddress    string
	serveMisordered bool
	serveBuild      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the build output with a test page",
	Long: `Serve the output directory and a page at / that loads the bundles in
plan order. With --misordered the dependents are loaded first, which shows the
load-order error every dependent raises.

The manifest of the current build is available at /__manifest and request
metrics at /metrics.

Examples:
  fluxpack serve
  fluxpack serve --build --address :3000
  fluxpack serve --misordered`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "listen address (default: serve.address)")
	serveCmd.Flags().BoolVar(&serveMisordered, "misordered", false, "load the bundles in reverse order")
	serveCmd.Flags().BoolVar(&serveBuild, "build", false, "build before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	if serveBuild {
		if _, err := buildProject(ctx, cfg, metrics); err != nil {
			return err
		}
	}

	address := serveAddress
	if address == "" {
		address = cfg.Serve.Address
	}

	server := devserver.New(devserver.Options{
		OutputDir:  cfg.OutputDir(),
		Misordered: serveMisordered,
		Metrics:    metrics,
		Debug:      debug || cfg.Debug,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(address)
	}()

	formatter.PrintSuccess(fmt.Sprintf("Serving %s at http://%s (Ctrl+C to stop)", cfg.OutputDir(), displayAddress(address)))

	select {
	case err := <-errCh:
		return fmt.Errorf("dev server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down dev server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dev server forced to shutdown: %w", err)
	}

	log.Info().Msg("Dev server exited")
	return nil
}

// displayAddress turns a listen address into something a browser can open
func displayAddress(address string) string {
	if len(address) > 0 && address[0] == ':' {
		return "localhost" + address
	}
	return address
}
