// Package transport owns the broker's TCP listener: accept loop, max
// connection enforcement, and graceful shutdown, handing each accepted
// socket to the broker's worker pool (spec §4.2, §5).
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/tallerdist/sentinela/internal/broker"
)

// TCPServer is the broker's single listening endpoint (spec §4.2 "Exposes
// a single TCP listening endpoint on (ip, port)").
type TCPServer struct {
	addr               string
	broker             *broker.Broker
	pool               *broker.WorkerPool
	log                *slog.Logger
	listener           net.Listener
	isShuttingdown     atomic.Bool
	maxConnections     int
	currentConnections atomic.Int32
}

// New creates a TCPServer bound to ip:port once Start is called.
func New(ip, port string, b *broker.Broker, pool *broker.WorkerPool, maxConnections int, log *slog.Logger) *TCPServer {
	return &TCPServer{
		addr:           net.JoinHostPort(ip, port),
		broker:         b,
		pool:           pool,
		log:            log,
		maxConnections: maxConnections,
	}
}

// Start begins accepting TCP connections in a background goroutine.
func (srv *TCPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.addr, err)
	}
	srv.listener = listener
	go srv.accept(ctx)
	return nil
}

// Stop shuts down the listener; connections already being served are not
// closed and end when their HandleConnection returns.
func (srv *TCPServer) Stop() error {
	srv.isShuttingdown.Store(true)
	if srv.listener != nil {
		return srv.listener.Close()
	}
	return nil
}

func (srv *TCPServer) accept(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			srv.log.Info("accept loop shutting down")
			return
		default:
			conn, err := srv.listener.Accept()
			if err != nil {
				if srv.isShuttingdown.Load() {
					return
				}
				srv.log.Warn("accept error", slog.Any("error", err))
				continue
			}

			if srv.currentConnections.Load() >= int32(srv.maxConnections) {
				srv.log.Warn("max connections exceeded, rejecting", slog.String("remote", conn.RemoteAddr().String()))
				conn.Close()
				continue
			}

			srv.currentConnections.Add(1)
			conn := conn
			err = srv.pool.Submit(func() {
				defer srv.currentConnections.Add(-1)
				srv.broker.HandleConnection(ctx, conn, srv.pool)
			})
			if err != nil {
				srv.log.Error("failed to submit connection to worker pool", slog.Any("error", err))
				srv.currentConnections.Add(-1)
				conn.Close()
			}
		}
	}
}
