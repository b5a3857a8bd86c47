// Command broker runs the sentinela TCP broker: connection handshake,
// topic routing, retained messages and QoS-1 retransmission (spec §4.2).
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tallerdist/sentinela/internal/auth"
	"github.com/tallerdist/sentinela/internal/broker"
	"github.com/tallerdist/sentinela/internal/config"
	"github.com/tallerdist/sentinela/internal/logging"
	"github.com/tallerdist/sentinela/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yml", "path to broker config yaml")
	flag.Parse()
	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: broker -config <file> <ip> <port>")
		return 1
	}
	ip, port := args[0], args[1]

	var cfg config.BrokerConfig
	if err := config.Load(*configPath, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	log := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Component: "broker",
		Service:   cfg.Name,
		Version:   cfg.Version,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
	})

	db, err := sql.Open("sqlite3", cfg.StorePath)
	if err != nil {
		log.LogError(err, "failed to open sqlite store")
		return 1
	}
	defer db.Close()

	authStore, err := auth.New(db)
	if err != nil {
		log.LogError(err, "failed to initialize auth store")
		return 1
	}
	for _, u := range cfg.Users {
		if err := authStore.Seed(u.Username, u.Password, 0); err != nil {
			log.LogError(err, fmt.Sprintf("failed to seed user %q", u.Username))
			return 1
		}
	}

	persistence, err := broker.OpenPersistence(db)
	if err != nil {
		log.LogError(err, "failed to open persistence")
		return 1
	}

	retransmitCfg := broker.DefaultRetransmitConfig()
	if cfg.Retransmit.MaxRetries > 0 {
		retransmitCfg.MaxRetries = cfg.Retransmit.MaxRetries
	}
	if cfg.Retransmit.InitialDelaySeconds > 0 {
		retransmitCfg.InitialDelay = time.Duration(cfg.Retransmit.InitialDelaySeconds) * time.Second
	}
	if cfg.Retransmit.MaxBackoffSeconds > 0 {
		retransmitCfg.MaxBackoff = time.Duration(cfg.Retransmit.MaxBackoffSeconds) * time.Second
	}
	if cfg.Retransmit.TickIntervalSeconds > 0 {
		retransmitCfg.Interval = time.Duration(cfg.Retransmit.TickIntervalSeconds) * time.Second
	}

	b := broker.New(authStore, persistence, retransmitCfg, log.Logger)
	if err := b.RestoreFromPersistence(); err != nil {
		log.LogError(err, "failed to restore persisted state")
		return 1
	}

	rt := broker.NewRetransmitter(retransmitCfg, b.Sessions, log.Logger)
	go rt.Run()
	defer rt.Stop()

	pool, err := broker.NewWorkerPool(cfg.WorkerPoolSize)
	if err != nil {
		log.LogError(err, "failed to start worker pool")
		return 1
	}
	defer pool.Release()

	srv := transport.New(ip, port, b, pool, cfg.MaxConnections, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.LogError(err, "failed to start listener")
		return 1
	}
	log.Info(fmt.Sprintf("broker listening at %s:%s", ip, port))

	done := make(chan struct{})
	go gracefulShutdown(ctx, cancel, srv, done)
	<-done
	log.Info("broker shut down cleanly")
	return 0
}

func gracefulShutdown(ctx context.Context, cancel context.CancelFunc, srv *transport.TCPServer, done chan struct{}) {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	defer cancel()
	srv.Stop()
	time.Sleep(1 * time.Second)
	close(done)
}
