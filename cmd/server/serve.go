package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aiwuxian/abyss-tension/internal/api"
	"github.com/aiwuxian/abyss-tension/internal/config"
	"github.com/aiwuxian/abyss-tension/internal/content"
	"github.com/aiwuxian/abyss-tension/internal/observability"
	"github.com/aiwuxian/abyss-tension/internal/scheduler"
	"github.com/aiwuxian/abyss-tension/internal/services"
	"github.com/aiwuxian/abyss-tension/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动HTTP服务与定时推进",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewStdoutLogger(cfg.Logger)
	defer logger.Sync()

	store, err := content.Load(cfg.Content.Path)
	if err != nil {
		return fmt.Errorf("加载内容包失败: %w", err)
	}

	opts := services.Options{Start: time.Now()}
	if cfg.Database.Path != "" {
		db, err := storage.New(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("初始化数据库失败: %w", err)
		}
		defer db.Close()
		opts.Archive = db
	}

	sim := services.NewSimulation(store, cfg.Simulation, logger, opts)
	defer sim.Close()

	sched := scheduler.New(sim, cfg.Simulation.TickInterval, logger)
	handler := api.NewHandler(sched, services.NewNarrator(cfg.LLM, logger), logger)
	defer handler.Close()

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	handler.Register(r.Group("/api"))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	errCh := make(chan error, 2)

	// 定时推进必须先于上面defer的Close退出
	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan struct{})
	defer func() {
		cancelRun()
		<-runDone
	}()
	if cfg.Server.AutoTick {
		go func() {
			defer close(runDone)
			if err := sched.Run(runCtx); err != nil {
				errCh <- err
			}
		}()
	} else {
		close(runDone)
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("启动服务器失败: %w", err)
		}
	}()

	logger.Info("Tension engine started",
		zap.String("addr", srv.Addr),
		zap.String("version", Version),
		zap.Int("crisis_templates", len(store.Templates())),
		zap.Bool("auto_tick", cfg.Server.AutoTick),
		zap.Bool("narration", cfg.LLM.APIKey != ""))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// requestLogger 用zap记录每个请求
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
