// Command camera runs the camera subsystem agent: seeds a camera table
// from config, computes the bordering relation, and drives the
// activation/deactivation cascade off incidents published to Inc
// (spec §4.4).
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
	"github.com/tallerdist/sentinela/internal/camera"
	"github.com/tallerdist/sentinela/internal/config"
	"github.com/tallerdist/sentinela/internal/geo"
	"github.com/tallerdist/sentinela/internal/logging"
	"github.com/tallerdist/sentinela/internal/model"
	"github.com/tallerdist/sentinela/internal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yml", "path to camera config yaml")
	flag.Parse()
	if len(flag.Args()) != 2 {
		fmt.Fprintln(os.Stderr, "usage: camera -config <file> <ip> <port>")
		return 1
	}

	var cfg config.CameraConfig
	if err := config.Load(*configPath, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	log := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Component: "camera",
		Service:   cfg.Name,
		FilePath:  cfg.Logging.FilePath,
	})

	table := camera.NewTable()
	radius := cfg.BorderRadius
	if radius <= 0 {
		radius = 5.0
	}
	for _, entry := range cfg.Cameras {
		table.Store(&model.Camera{
			ID:       entry.ID,
			Position: geo.Position{Lat: entry.Lat, Lon: entry.Lon},
			Range:    entry.Range,
		})
	}
	table.BuildBorderRelation(radius)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	will := &brokerclient.Will{
		Topic:   model.TopicDesc,
		Payload: model.EncodeDescWill(model.AppCamera, 0),
		QoS:     wire.QoS1,
	}

	addr := net.JoinHostPort(cfg.Broker.IP, cfg.Broker.Port)
	client, inbound, err := brokerclient.Connect(ctx, cfg.Name, addr, will, true, 0, brokerclient.DefaultConfig(), log.Logger)
	if err != nil {
		log.LogError(err, "failed to connect to broker")
		return 1
	}
	defer client.Disconnect()

	if _, err := client.Subscribe(ctx, []wire.TopicFilter{{Topic: model.TopicInc, QoS: wire.QoS1}}); err != nil {
		log.LogError(err, "failed to subscribe to Inc")
		return 1
	}

	sub := camera.New(table, client, log.Logger)
	sub.PublishAll()

	go sub.RunAIDetector(ctx)
	go consumeIncidents(ctx, inbound, sub, log)

	log.Info(fmt.Sprintf("camera subsystem running, %d cameras loaded", len(cfg.Cameras)))

	done := make(chan struct{})
	go gracefulShutdown(cancel, done)
	<-done
	log.Info("camera subsystem shut down cleanly")
	return 0
}

func consumeIncidents(ctx context.Context, inbound <-chan brokerclient.Inbound, sub *camera.Subsystem, log *logging.Logger) {
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
				sub.HandleIncidentResolved(inc)
			} else {
				sub.HandleIncident(inc)
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
