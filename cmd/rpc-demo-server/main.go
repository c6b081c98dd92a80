// Command rpc-demo-server hosts the calculator, greeting, and kvstore
// example Handlers over the RPC fabric, listening until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tenzoki/redisrpc/examples/calculator"
	"github.com/tenzoki/redisrpc/examples/greeting"
	"github.com/tenzoki/redisrpc/examples/kvstore"
	"github.com/tenzoki/redisrpc/internal/config"
	"github.com/tenzoki/redisrpc/internal/transport"
	"github.com/tenzoki/redisrpc/public/rpc"
)

func main() {
	configPath := flag.String("config", "", "path to redisrpc.yaml (falls back to REDISRPC_CONFIG_PATH, then ./config/redisrpc.yaml, then built-in defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("rpc-demo-server: config: %v", err)
	}

	logger := log.New(os.Stdout, "rpc-demo-server: ", log.LstdFlags)

	adapter, err := transport.NewRedisAdapter(transport.RedisOptions{
		ConnectionString: cfg.ConnectionString,
		Database:         cfg.Database,
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Fatalf("rpc-demo-server: connect: %v", err)
	}
	defer adapter.Close()

	server := rpc.NewServer(adapter, rpc.ServerOptions{
		ChannelPrefix:             cfg.ChannelPrefix,
		DefaultTimeoutMs:          cfg.DefaultTimeoutMs,
		MaxConcurrentRequests:     int64(cfg.MaxConcurrentRequests),
		MaxPayloadBytes:           cfg.MaxPayloadBytes,
		IncludeStackTraceInErrors: cfg.IncludeStackTraceInErrors,
		Logger:                    logger,
	})

	server.RegisterHandler(calculator.Handler{})
	server.RegisterHandler(greeting.New(logger))
	server.RegisterHandler(kvstore.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.StartListening(ctx, "calculator", "greeting", "kvstore"); err != nil {
		log.Fatalf("rpc-demo-server: start listening: %v", err)
	}
	logger.Printf("listening on calculator, greeting, kvstore via %s", cfg.ConnectionString)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Println("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Dispose(shutdownCtx); err != nil {
		logger.Printf("dispose: %v", err)
	}
}
