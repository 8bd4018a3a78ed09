package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/watch-party/internal/limiter"
	"github.com/koopa0/watch-party/internal/room"
	"github.com/koopa0/watch-party/internal/server"
)

func main() {
	// 解析命令行參數
	var (
		port      = flag.Int("port", 8080, "服務器端口")
		logLevel  = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat = flag.String("log-format", "text", "日誌格式 (text, json)")
	)
	flag.Parse()

	// 設置日誌
	logger := setupLogger(*logLevel, *logFormat)

	// 速率限制器（連線 + 訊息）
	limits := limiter.NewDefault()

	// 連線服務與房間目錄
	conns := room.NewConnectionService(logger)
	directory := room.NewDirectory(conns, limits, logger)

	// HTTP 處理器（含 WebSocket 入口）
	handler := server.NewHandler(directory, limits, logger)

	// 創建 HTTP 服務器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      handler.Routes(),
		// 升級後的 WebSocket 連線不受這些逾時影響（升級時重設 deadline）
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("觀影同步服務器啟動",
			"port", *port,
			"log_level", *logLevel,
			"log_format", *logFormat)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 停止速率限制器的背景清理
	limits.Stop()

	logger.Info("服務器已關閉")
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
