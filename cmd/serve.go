package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"framepipe/api"
	"framepipe/config"
	"framepipe/ffmpeg"
	"framepipe/frames"
	"framepipe/task"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

// components is everything the server wires together.
type components struct {
	resolver *ffmpeg.Resolver
	manager  *task.Manager
	runner   *ffmpeg.Runner
}

func buildComponents(cfg *config.Config, log zerolog.Logger) (*components, error) {
	if err := ffmpeg.CheckBinary(cfg.FFBin); err != nil {
		return nil, err
	}

	builder, err := ffmpeg.NewCommandBuilder(cfg.DecoderLogLevel, cfg.DecoderInputArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid decoder input args: %w", err)
	}
	priority, err := ffmpeg.ParsePriority(cfg.HWAccelPriority)
	if err != nil {
		return nil, fmt.Errorf("invalid hardware acceleration priority: %w", err)
	}

	prober := ffmpeg.NewExecProber(cfg.FFBin, builder, cfg.ProbeTimeout)
	resolver := ffmpeg.NewResolver(priority, prober, cfg.ProbeCacheTTL, log)
	store := frames.NewStore(cfg.FrameRoot, log)
	guard := ffmpeg.NewResourceGuard(cfg.ThrottleCPU, cfg.ThrottleFreeMem, cfg.ThrottleFreeDisk, cfg.FrameRoot, log)

	manager, err := task.NewManager(cfg, task.Deps{
		Store:    store,
		Resolver: resolver,
		Builder:  builder,
		Launcher: ffmpeg.NewExecLauncher(cfg.FFBin, log),
		Guard:    guard,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task manager: %w", err)
	}

	return &components{
		resolver: resolver,
		manager:  manager,
		runner:   ffmpeg.NewRunner(cfg.FFBin, builder, cfg.FFTimeout, log),
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}

	comps, err := buildComponents(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := comps.manager.StartSweeper(ctx); err != nil {
		return fmt.Errorf("starting sweeper: %w", err)
	}
	// Warm the probe cache so the first decode does not pay for it.
	go func() {
		backend := comps.resolver.Detect(ctx)
		log.Info().Str("backend", backend.String()).Msg("acceleration backend detected")
	}()

	if log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.SetupRouter(api.Deps{
		Decoder: comps.manager,
		Tools:   comps.runner,
		Accel:   comps.resolver,
		HWAccels: func(ctx context.Context) ([]string, error) {
			return ffmpeg.ListHWAccels(ctx, cfg.FFBin)
		},
	}, cfg, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("frame_root", cfg.FrameRoot).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			comps.manager.Shutdown()
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	stop()
	log.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	comps.manager.Shutdown()

	log.Info().Msg("server exiting")
	return nil
}
