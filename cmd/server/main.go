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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/exam-sync/internal"
	"github.com/koopa0/exam-sync/internal/migrations"
	"github.com/koopa0/exam-sync/internal/storage"
	"github.com/koopa0/exam-sync/pkg/logger"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "配置檔路徑（空表示使用預設值）")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置檔）")
	)
	flag.Parse()

	// 載入配置
	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "載入配置失敗: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// 初始化日誌
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.Level == "debug"); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日誌失敗: %v\n", err)
		os.Exit(1)
	}
	log := slog.Default()

	// 建立存儲
	store, cleanup, err := buildStore(cfg, log)
	if err != nil {
		log.Error("建立存儲失敗", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// 建立快照快取（可選）
	var cache storage.Cache
	var closeRedis func()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		cache = storage.NewRedisCache(client, cfg.Redis.SnapshotTTL)
		closeRedis = func() { _ = client.Close() }
		log.Info("快照快取已啟用", "addr", cfg.RedisAddr())
	}

	// 組裝核心元件
	registry := internal.NewRegistry()
	hub := internal.NewHub(registry, cfg, log)
	roster := internal.NewRoster(store, hub, cache, log)

	var assembler internal.Assembler = internal.NewStoreAssembler(store)
	if cache != nil {
		assembler = internal.NewCachedAssembler(assembler, cache, log)
	}

	handler := internal.NewHandler(roster, assembler, hub, log)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("/ws", hub.ServeWS)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 啟動服務器
	go func() {
		log.Info("監考同步服務器啟動",
			"port", cfg.Server.Port,
			"storage", cfg.Storage.Driver,
			"probe_interval", cfg.Hub.ProbeInterval)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("收到關閉信號，開始優雅關閉...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	// 停止 Hub（心跳計時器 + 全部連接）
	hub.Stop()

	if closeRedis != nil {
		closeRedis()
	}

	log.Info("服務器已關閉")
}

// buildStore 依配置建立存儲後端
func buildStore(cfg *internal.Config, log *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		dsn := cfg.PostgresDSN()

		// 先跑遷移
		migrator, err := migrations.New(dsn, log)
		if err != nil {
			return nil, nil, err
		}
		if err := migrator.Up(); err != nil {
			return nil, nil, err
		}
		if err := migrator.Close(); err != nil {
			log.Warn("關閉遷移管理器失敗", "error", err)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, err
		}
		poolCfg.MaxConns = cfg.Postgres.MaxConns
		poolCfg.MinConns = cfg.Postgres.MinConns

		pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			return nil, nil, err
		}

		return storage.NewPostgres(pool), pool.Close, nil

	default:
		return storage.NewMemory(), func() {}, nil
	}
}
