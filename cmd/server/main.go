package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/qnahub/go-qna/internal/api"
	"github.com/qnahub/go-qna/internal/config"
	"github.com/qnahub/go-qna/internal/database"
	"github.com/qnahub/go-qna/internal/presence"
	"github.com/qnahub/go-qna/internal/server"
	"github.com/qnahub/go-qna/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	redisAddr      string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-qna] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, redisAddr, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgQnaRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Println("redis close:", err)
		}
	}()

	presenceClient := presence.NewClient(rdb, logger)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	qnaServer := server.NewQnaServer(logger, dbConn, presenceClient, statsUpdater)

	// Handlers are registered by NewQnaServer; open the pattern
	// subscription only after that so no event kind is unroutable.
	if err := presenceClient.Subscribe(context.Background()); err != nil {
		logger.Fatal("presence subscribe:", err)
	}
	defer func() {
		if err := presenceClient.Close(); err != nil {
			logger.Println("presence close:", err)
		}
	}()

	srv := api.NewQnaApp(mux, logger, qnaServer, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go qnaServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down room gateway...")
	if err := qnaServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("room gateway shutdown:", err)
	}

	logger.Println("shutdown complete")
}
