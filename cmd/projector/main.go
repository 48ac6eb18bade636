package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/IronblockT/bodega-galatica/internal/config"
	kafkax "github.com/IronblockT/bodega-galatica/internal/kafka"
	"github.com/IronblockT/bodega-galatica/internal/ledger"
	"github.com/IronblockT/bodega-galatica/internal/projector"
	"github.com/IronblockT/bodega-galatica/internal/redisx"
	"github.com/IronblockT/bodega-galatica/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	telemetry.InitLogger(cfg.ServiceName + "-projector")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &projector.Service{
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-projector",
	}

	group := getenv("PROJECTOR_GROUP", "order-projector")
	workers := mustAtoi(os.Getenv("PROJECTOR_WORKERS"), 4)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, []string{ledger.TopicOrderEvents}, workers)

	go func() {
		log.Printf("projector started: group=%s topic=%s workers=%d", group, ledger.TopicOrderEvents, workers)
		if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down projector...")
	cancel()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil || i <= 0 {
		return def
	}
	return i
}
