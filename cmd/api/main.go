package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/zhouzirui/chatty/backend/internal/config"
	"github.com/zhouzirui/chatty/backend/internal/handler"
	"github.com/zhouzirui/chatty/backend/internal/service/broadcast"
	"github.com/zhouzirui/chatty/backend/internal/service/chat"
)

func main() {
	os.Exit(run())
}

// run 返回进程退出码，保证 defer 的清理逻辑在退出前执行
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	log := logs.GetLoggerFromString(cfg.Log.Level)
	slog.SetDefault(log)
	if envErr != nil {
		log.Warn("failed to load .env file, continuing with system environment variables only", "error", envErr)
	}

	users, closeStore, err := cfg.Store.OpenStore()
	if err != nil {
		log.Error("failed to open user store", "backend", cfg.Store.Backend, "error", err)
		return 1
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("failed to close user store", "error", err)
		}
	}()
	log.Info("user store ready", "backend", cfg.Store.Backend, "seeded", cfg.Store.SeedUsers)

	listener := broadcast.NewLogListener(log)
	hubs := handler.Hubs{
		Chat:     broadcast.NewHub(log.With("hub", "chat"), listener, cfg.Hub.Options()),
		Messages: broadcast.NewHub(log.With("hub", "messages"), listener, cfg.Hub.Options()),
	}
	chatService := chat.NewService(hubs.Messages, log)

	router := handler.NewRouter(users, chatService, hubs, log)

	if err := startServer(ctx, cfg.Server, router, log, hubs.Chat.Close, hubs.Messages.Close); err != nil {
		log.Error("server error", "error", err)
		return 1
	}
	return 0
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *slog.Logger, onShutdown ...func()) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		// 升级后的长连接不受 Shutdown 管理，由各 hub 主动断开。
		for _, fn := range onShutdown {
			fn()
		}
	})

	log.Info("chatty backend listening", "addr", addr)
	return runServer(ctx, srv, serverCfg.ShutdownTimeout)
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
