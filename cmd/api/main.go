package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/IronblockT/bodega-galatica/internal/catalog"
	"github.com/IronblockT/bodega-galatica/internal/checkout"
	"github.com/IronblockT/bodega-galatica/internal/config"
	"github.com/IronblockT/bodega-galatica/internal/httpx"
	kafkax "github.com/IronblockT/bodega-galatica/internal/kafka"
	"github.com/IronblockT/bodega-galatica/internal/ledger"
	"github.com/IronblockT/bodega-galatica/internal/mercadopago"
	"github.com/IronblockT/bodega-galatica/internal/postgres"
	"github.com/IronblockT/bodega-galatica/internal/redisx"
	"github.com/IronblockT/bodega-galatica/internal/reservation"
	"github.com/IronblockT/bodega-galatica/internal/telemetry"
	"github.com/IronblockT/bodega-galatica/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	telemetry.InitLogger(cfg.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.PGMaxConns))
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, ledger.TopicOrderEvents, 1024)
	prod.Start(ctx)

	engine := &reservation.Engine{DB: db, TTL: cfg.ReservationTTL}
	sweeper := &reservation.Sweeper{Engine: engine, Interval: cfg.SweepInterval}
	go sweeper.Run(ctx)

	repo := &ledger.Repo{DB: db}
	ledgerSvc := &ledger.Service{
		Repo:         repo,
		Reservations: engine,
		Events:       prod,
		ServiceName:  cfg.ServiceName,
	}

	store := &catalog.Store{DB: db}
	gateway := mercadopago.NewClient(cfg.MPBaseURL, cfg.MPAccessToken)

	orchestrator := &checkout.Orchestrator{
		Catalog:      store,
		Ledger:       ledgerSvc,
		Reservations: engine,
		Gateway:      gateway,
		AppURL:       cfg.AppURL,
		Currency:     "BRL",
	}
	reconciler := &webhook.Reconciler{
		Verifier: webhook.Verifier{Secret: cfg.MPWebhookSecret},
		Gateway:  gateway,
		Ledger:   ledgerSvc,
		Provider: mercadopago.Provider,
	}

	router := httpx.NewRouter()
	(&httpx.CheckoutHandler{Orchestrator: orchestrator}).Register(router)
	(&httpx.WebhookHandler{Reconciler: reconciler}).Register(router)
	(&httpx.OrdersHandler{Repo: repo, Catalog: store, Redis: rdb}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // flush remaining events
	cancel()
	prod.WaitClosed()
}
