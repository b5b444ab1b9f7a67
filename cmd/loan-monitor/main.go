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

	"go.uber.org/zap"

	"loan-monitor/common/logger"
	"loan-monitor/internal/config"
	"loan-monitor/internal/httpapi"
	"loan-monitor/internal/service"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "loan-monitor")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. 创建服务
	monitor, err := service.NewMonitorService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create monitor service",
			zap.Error(err),
		)
	}
	defer monitor.Stop()

	// 5. 外部调度模式：每个任务执行一次后退出
	if cfg.Monitor.RunOnce {
		if err := monitor.Start(ctx); err != nil {
			log.Error("Run once finished with errors", zap.Error(err))
			monitor.Stop()
			os.Exit(1)
		}
		log.Info("Run once finished")
		return
	}

	// 6. HTTP 接口
	router := httpapi.NewRouter(log)
	router.RegisterAlertRoutes(httpapi.NewAlertHandler(monitor.Alerts(), log))
	router.RegisterReportRoutes(httpapi.NewReportHandler(monitor.Reports(), log))
	router.RegisterReliabilityRoutes(httpapi.NewReliabilityHandler(monitor.Reliability(), log))
	router.RegisterJobRoutes(httpapi.NewJobHandler(monitor.Snapshots(), monitor.Scheduler(), log))
	router.RegisterOpsRoutes()

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serviceErrChan := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceErrChan <- err
		}
	}()

	// 7. 启动周期任务
	if err := monitor.Start(ctx); err != nil {
		log.Fatal("Failed to start monitor service", zap.Error(err))
	}

	// 8. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case err := <-serviceErrChan:
		log.Error("HTTP server error",
			zap.Error(err),
		)
	}

	cancel() // 取消上下文，停止周期任务
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shutdown HTTP server", zap.Error(err))
	}
	monitor.Wait()

	log.Info("Loan monitor service stopped")
}
