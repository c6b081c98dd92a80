// Command rpc-demo-client exercises the calculator and greeting example
// services over the RPC fabric: one typed request, one failing request,
// one untyped request, and one notification.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/tenzoki/redisrpc/examples/calculator"
	"github.com/tenzoki/redisrpc/examples/greeting"
	"github.com/tenzoki/redisrpc/internal/config"
	"github.com/tenzoki/redisrpc/internal/transport"
	"github.com/tenzoki/redisrpc/public/rpc"
)

func main() {
	configPath := flag.String("config", "", "path to redisrpc.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("rpc-demo-client: config: %v", err)
	}

	logger := log.New(os.Stdout, "rpc-demo-client: ", log.LstdFlags)

	adapter, err := transport.NewRedisAdapter(transport.RedisOptions{
		ConnectionString: cfg.ConnectionString,
		Database:         cfg.Database,
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Fatalf("rpc-demo-client: connect: %v", err)
	}
	defer adapter.Close()

	client, err := rpc.NewClient(adapter, rpc.ClientOptions{
		ChannelPrefix:    cfg.ChannelPrefix,
		DefaultTimeoutMs: cfg.DefaultTimeoutMs,
		MaxPayloadBytes:  cfg.MaxPayloadBytes,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("rpc-demo-client: new client: %v", err)
	}
	defer client.Dispose(context.Background())

	ctx := context.Background()

	sum, err := rpc.SendRequestAs[float64](ctx, client, "calculator", "Add", calculator.Operands{A: 10, B: 5}, rpc.RequestOptions{})
	if err != nil {
		logger.Fatalf("Add: %v", err)
	}
	logger.Printf("Add(10, 5) = %v", sum)

	_, err = client.SendRequest(ctx, "calculator", "Divide", calculator.Operands{A: 10, B: 0}, rpc.RequestOptions{})
	if rpcErr, ok := err.(*rpc.Error); ok {
		logger.Printf("Divide(10, 0) failed as expected: code=%d message=%q", rpcErr.Code, rpcErr.Message)
	} else if err != nil {
		logger.Fatalf("Divide: unexpected error shape: %v", err)
	}

	greetResult, err := client.SendRequest(ctx, "greeting", "Greet", greeting.GreetParams{Name: "World"}, rpc.RequestOptions{})
	if err != nil {
		logger.Fatalf("Greet: %v", err)
	}
	var greetText string
	if err := json.Unmarshal(greetResult, &greetText); err != nil {
		logger.Fatalf("Greet: decode result: %v", err)
	}
	logger.Printf("Greet(World) = %q", greetText)

	if err := client.SendNotification(ctx, "greeting", "LogActivity", greeting.ActivityParams{Event: "rpc-demo-client ran"}); err != nil {
		logger.Fatalf("LogActivity: %v", err)
	}
	logger.Println("LogActivity notification sent")
}
