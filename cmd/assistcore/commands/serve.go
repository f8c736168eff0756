package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/assistcore/internal/config"
	"github.com/opencode-ai/assistcore/internal/logging"
	"github.com/opencode-ai/assistcore/internal/server"
	"github.com/opencode-ai/assistcore/pkg/types"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistcore HTTP server",
	Long: `Start assistcore as a server exposing the request API over HTTP and SSE.

Provider changes in the config files are picked up without a restart;
router, snapshot and breaker settings apply on the next start.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Address to listen on (default from config or 127.0.0.1:4141)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload providers when config files change")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, workDir, true)
	if err != nil {
		return err
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Directory = workDir
	if a.cfg.Server.Addr != "" {
		srvCfg.Addr = a.cfg.Server.Addr
	}
	if serveAddr != "" {
		srvCfg.Addr = serveAddr
	}
	if len(a.cfg.Server.CORSOrigins) > 0 {
		srvCfg.CORSOrigins = a.cfg.Server.CORSOrigins
	}

	srv := server.New(srvCfg, a.router, a.registry,
		server.WithEventBus(a.bus),
		server.WithSnapshotOptions(config.SnapshotOptions(a.cfg)),
	)

	g, gctx := errgroup.WithContext(ctx)

	if serveWatch {
		w, err := config.NewWatcher(workDir, func(cfg *types.Config) error {
			return a.registry.Update(gctx, cfg.Providers)
		}, config.WithWatcherBus(a.bus))
		if err != nil {
			logging.Warn().Err(err).Msg("config watcher disabled")
		} else {
			w.Start()
			defer w.Stop()
		}
	}

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("server shutdown")
		}
		return a.close(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info().Msg("server stopped")
	return nil
}
