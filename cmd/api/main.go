package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahwlsqja/csrf-recovery/internal/config"
	"github.com/ahwlsqja/csrf-recovery/internal/order"
	"github.com/ahwlsqja/csrf-recovery/internal/server"
	"github.com/ahwlsqja/csrf-recovery/internal/session"
	pkgdb "github.com/ahwlsqja/csrf-recovery/pkg/db"
	pkgredis "github.com/ahwlsqja/csrf-recovery/pkg/redis"
	"go.uber.org/zap"
)

// @title CSRF Recovery API
// @version 1.0
// @description Session-bound CSRF tokens, the token refresh endpoint and a protected order resource.
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

func main() {
	// 1) 로거 초기화
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 2) 설정 로드
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting server",
		zap.String("environment", cfg.Server.Environment),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("session_driver", cfg.Session.Driver),
	)

	ctx := context.Background()

	// 3) DB 초기화 (선택)
	var (
		db       *sql.DB
		txRunner *pkgdb.TxRunner
	)
	if cfg.Database.Enabled {
		db, err = initDB(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		txRunner = pkgdb.NewTxRunner(db)
	}

	// 4) Redis 초기화 (fail-fast)
	rdb, err := pkgredis.Connect(ctx, pkgredis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// 5) 세션 저장소 / 주문 저장소
	sessions, err := session.Open(ctx, cfg.Session.Driver, rdb, txRunner, logger)
	if err != nil {
		logger.Fatal("failed to open session store", zap.Error(err))
	}

	var orders order.Repository = order.NewMemoryRepository()
	if txRunner != nil {
		repo := order.NewMySQLRepository(txRunner)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to create orders table", zap.Error(err))
		}
		orders = repo
	} else {
		logger.Warn("database disabled, orders are kept in memory")
	}

	// 6) 라우터 구성
	router, err := server.NewRouter(server.Deps{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Redis:    rdb,
		Sessions: sessions,
		Orders:   orders,
	})
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}

	// 7) HTTP 서버 생성
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8) 서버 비동기 시작
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("server started",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("swagger", fmt.Sprintf("http://localhost:%d/swagger/index.html", cfg.Server.Port)),
	)

	// 9) 종료 시그널 대기
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// 10) Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENVIRONMENT")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func initDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := pkgdb.New(pkgdb.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Name:            cfg.Name,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pkgdb.Ping(pingCtx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
