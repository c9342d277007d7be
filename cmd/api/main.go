package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ballotbox.org/internal/chain"
	"ballotbox.org/internal/config"
	"ballotbox.org/internal/events"
	"ballotbox.org/internal/httpapi"
	"ballotbox.org/internal/identity"
	"ballotbox.org/internal/notify"
	"ballotbox.org/internal/obs"
	"ballotbox.org/internal/store/pg"
	"ballotbox.org/internal/stream"
	"ballotbox.org/internal/voting"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("BALLOTBOX_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Optional on-chain mirror.
	var ledger chain.Ledger
	if cfg.Chain.RPCURL != "" {
		ledger = chain.NewClient(cfg.Chain.RPCURL)
	}

	// The durable store implements the voting service, the identity registry
	// and the notification mailbox against one database. Without a DSN the
	// service runs fully in-process.
	var (
		svc   voting.Service
		users identity.Registry
		inbox notify.Store
		probe httpapi.ReadyProbe
		store *pg.Store
	)
	if cfg.PG.DSN != "" {
		opts := []pg.Option{}
		if ledger != nil {
			opts = append(opts, pg.WithChainReader(ledger))
		}
		store, err = pg.Open(cfg.PG.DSN, opts...)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		if cfg.PG.MaxOpenConns > 0 {
			store.DB().SetMaxOpenConns(cfg.PG.MaxOpenConns)
		}
		if cfg.PG.MaxIdleConns > 0 {
			store.DB().SetMaxIdleConns(cfg.PG.MaxIdleConns)
		}
		svc, users, inbox = store, store, store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		reg := identity.NewInMemory()
		mailbox := notify.NewInMemory()
		memOpts := []voting.ServiceOption{}
		if ledger != nil {
			memOpts = append(memOpts, voting.WithChainReader(ledger))
		}
		svc, users, inbox = voting.NewInMemory(reg, mailbox, memOpts...), reg, mailbox
		log.Print("no pg.dsn configured, using in-memory stores")
	}

	var producer *events.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}

	apiOpts := []httpapi.APIOption{
		httpapi.WithRateLimit(cfg.HTTP.RateBurst, int(cfg.HTTP.RatePerSec)),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	}
	if ledger != nil {
		apiOpts = append(apiOpts, httpapi.WithLedger(ledger))
	}
	if producer != nil {
		apiOpts = append(apiOpts, httpapi.WithProducer(producer))
	}
	api := httpapi.New(probe, version, svc, users, inbox, stream.New(), apiOpts...)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting ballotbox-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if producer != nil {
		_ = producer.Close()
	}
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}
