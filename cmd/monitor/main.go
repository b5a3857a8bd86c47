// Command monitor runs the monitoring station's resolution protocol
// (spec §4.5): a two-drone quorum over Dron updates that republishes
// incidents resolved once enough distinct drones report ManagingIncident.
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
	"github.com/tallerdist/sentinela/internal/logging"
	"github.com/tallerdist/sentinela/internal/model"
	"github.com/tallerdist/sentinela/internal/monitor"
	"github.com/tallerdist/sentinela/internal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yml", "path to monitor config yaml")
	flag.Parse()
	if len(flag.Args()) != 2 {
		fmt.Fprintln(os.Stderr, "usage: monitor -config <file> <ip> <port>")
		return 1
	}

	var cfg config.MonitorConfig
	if err := config.Load(*configPath, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	log := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Component: "monitor",
		Service:   cfg.Name,
		FilePath:  cfg.Logging.FilePath,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	will := &brokerclient.Will{
		Topic:   model.TopicDesc,
		Payload: model.EncodeDescWill(model.AppMonitor, 0),
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
		{Topic: model.TopicDron, QoS: wire.QoS1},
		{Topic: model.TopicCam, QoS: wire.QoS0},
		{Topic: model.TopicDesc, QoS: wire.QoS0},
	}); err != nil {
		log.LogError(err, "failed to subscribe")
		return 1
	}

	m := monitor.New(client, log.Logger)
	go consume(ctx, inbound, m, log)

	log.Info("monitor station online")

	done := make(chan struct{})
	go gracefulShutdown(cancel, done)
	<-done
	log.Info("monitor shut down cleanly")
	return 0
}

func consume(ctx context.Context, inbound <-chan brokerclient.Inbound, m *monitor.Monitor, log *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			switch msg.Topic {
			case model.TopicInc:
				inc, err := model.DecodeIncident(msg.Payload)
				if err != nil {
					log.LogError(err, "failed to decode incident")
					continue
				}
				m.HandleIncident(inc)
			case model.TopicDron:
				info, err := model.DecodeDronCurrentInfo(msg.Payload)
				if err != nil {
					log.LogError(err, "failed to decode drone update")
					continue
				}
				m.HandleDroneUpdate(info)
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
