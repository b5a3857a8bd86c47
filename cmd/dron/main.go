// Command dron runs a single drone's state machine (spec §4.5): connects
// to the broker, responds to incidents within its purview, and publishes
// its state snapshot on every transition.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/tallerdist/sentinela/internal/brokerclient"
	"github.com/tallerdist/sentinela/internal/config"
	"github.com/tallerdist/sentinela/internal/drone"
	"github.com/tallerdist/sentinela/internal/geo"
	"github.com/tallerdist/sentinela/internal/logging"
	"github.com/tallerdist/sentinela/internal/model"
	"github.com/tallerdist/sentinela/internal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yml", "path to dron config yaml")
	flag.Parse()
	if len(flag.Args()) != 2 {
		fmt.Fprintln(os.Stderr, "usage: dron -config <file> <ip> <port>")
		return 1
	}

	var cfg config.DronConfig
	if err := config.Load(*configPath, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	log := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Component: "dron",
		Service:   cfg.Name,
		FilePath:  cfg.Logging.FilePath,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	will := &brokerclient.Will{
		Topic:   model.TopicDesc,
		Payload: model.EncodeDescWill(model.AppDrone, cfg.ID),
		QoS:     wire.QoS1,
	}

	addr := net.JoinHostPort(cfg.Broker.IP, cfg.Broker.Port)
	client, inbound, err := brokerclient.Connect(ctx, cfg.Name, addr, will, true, 0, brokerclient.DefaultConfig(), log.Logger)
	if err != nil {
		log.LogError(err, "failed to connect to broker")
		return 1
	}
	defer client.Disconnect()

	if _, err := client.Subscribe(ctx, []wire.TopicFilter{
		{Topic: model.TopicInc, QoS: wire.QoS1},
	}); err != nil {
		log.LogError(err, "failed to subscribe to Inc")
		return 1
	}

	d := drone.New(drone.Config{
		ID:                cfg.ID,
		RangeCenter:       geo.Position{Lat: cfg.RangeCenterLat, Lon: cfg.RangeCenterLon},
		MaintenanceCoords: geo.Position{Lat: cfg.MaintenanceLat, Lon: cfg.MaintenanceLon},
		MinBatteryLvl:     cfg.MinBatteryLvl,
		SpeedKmh:          cfg.SpeedKmh,
	}, client, log.Logger)

	go consumeIncidents(ctx, inbound, d, log)

	log.Info(fmt.Sprintf("drone %d online, awaiting incidents", cfg.ID))

	done := make(chan struct{})
	go gracefulShutdown(cancel, done)
	<-done
	log.Info("drone shut down cleanly")
	return 0
}

func consumeIncidents(ctx context.Context, inbound <-chan brokerclient.Inbound, d *drone.Drone, log *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if msg.Topic != model.TopicInc {
				continue
			}
			inc, err := model.DecodeIncident(msg.Payload)
			if err != nil {
				log.LogError(err, "failed to decode incident")
				continue
			}
			if inc.Resolved {
				d.HandleIncidentResolved(inc)
			} else {
				d.HandleIncident(inc)
			}
		}
	}
}

func gracefulShutdown(cancel context.CancelFunc, done chan struct{}) {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	cancel()
	close(done)
}
