package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/blahgeek/peervpn/internal/authmgt"
	"github.com/blahgeek/peervpn/internal/config"
	peervpnmetrics "github.com/blahgeek/peervpn/internal/metrics"
	"github.com/blahgeek/peervpn/internal/netio"
	"github.com/blahgeek/peervpn/internal/peer"
)

// pumpInterval is how often the owning goroutine pumps AuthMgt and drains
// TakeNextOutgoing when no datagram has just arrived to trigger a pump;
// keepalives, idle timeouts, queued handshake messages and dialing need a
// clock, not just incoming traffic, to advance.
const pumpInterval = 20 * time.Millisecond

// recvBufSize is sized for the largest datagram the manager will ever
// produce or accept.
const recvBufSize = 8192

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the peervpn daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDaemon(*configPath)
		},
	}
}

func runDaemon(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log, logLevel)

	logger.Info("peervpn starting",
		slog.String("listen", cfg.Listen.Addr),
		slog.String("netid", cfg.Peer.NetID))

	reg := prometheus.NewRegistry()
	collector := peervpnmetrics.NewCollector(reg)

	nodeID, err := loadNodeID(cfg.Peer.NodeKeyFile)
	if err != nil {
		return fmt.Errorf("load node key: %w", err)
	}

	am := authmgt.New(cfg.Peer.NetID, nodeID, cfg.Peer.Flags, cfg.Peer.AuthSlots,
		authmgt.WithFastAuth(cfg.Peer.FastAuth),
		authmgt.WithLogger(logger),
	)

	mgr, err := peer.Create(cfg.Peer.PeerSlots, cfg.Peer.NetID, cfg.Peer.Password, nodeID, am,
		peer.WithLogger(logger),
		peer.WithMetrics(collector),
		peer.WithLoopback(cfg.Peer.Loopback),
		peer.WithFastAuth(cfg.Peer.FastAuth),
		peer.WithFragmentation(cfg.Peer.Fragmentation),
		peer.WithFlags(cfg.Peer.Flags),
	)
	if err != nil {
		return fmt.Errorf("create peer manager: %w", err)
	}
	if cfg.Peer.NewConnectMaxAge > 0 {
		mgr.SetNewConnectMaxAge(cfg.Peer.NewConnectMaxAge)
	}

	sock, err := netio.Listen(cfg.Listen.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen.Addr, err)
	}
	defer sock.Close()
	if err := sock.SetHopLimit(cfg.Listen.HopLimit); err != nil {
		logger.Warn("failed to set hop limit", slog.String("error", err.Error()))
	}

	dialBootstrapPeers(cfg.Peers, mgr, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	incoming := make(chan inboundPacket, 64)
	g.Go(func() error { return recvLoop(gCtx, sock, incoming, logger) })
	g.Go(func() error { return pumpLoop(gCtx, mgr, sock, incoming, collector, logger) })
	g.Go(func() error { return serveHTTP(gCtx, cfg.Metrics, reg, logger) })

	ctlSrv, err := newControlServer(cfg.Control.SocketPath, mgr, logger)
	if err != nil {
		return fmt.Errorf("start control socket: %w", err)
	}
	defer ctlSrv.Close()
	g.Go(func() error { return ctlSrv.Serve(gCtx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run peervpn: %w", err)
	}

	logger.Info("peervpn stopped")
	return nil
}

// dialBootstrapPeers starts a handshake toward every configured seed
// address. NodeDb cannot hold these yet (see DESIGN.md "Open question:
// seeding bootstrap peers into NodeDb") since their NodeID isn't known
// until the handshake completes, so DialBootstrap bypasses it.
func dialBootstrapPeers(entries []config.PeerEntry, mgr *peer.Manager, logger *slog.Logger) {
	for _, entry := range entries {
		ap, err := netip.ParseAddrPort(entry.Addr)
		if err != nil {
			logger.Warn("skipping bootstrap peer with invalid address",
				slog.String("addr", entry.Addr), slog.String("error", err.Error()))
			continue
		}
		if !mgr.DialBootstrap(peer.DirectAddr(ap)) {
			logger.Warn("bootstrap dial rejected, auth slots full or already in flight",
				slog.String("addr", entry.Addr))
			continue
		}
		logger.Info("bootstrap dial started", slog.String("addr", entry.Addr))
	}
}

// inboundPacket is one datagram handed from recvLoop to pumpLoop, the only
// goroutine allowed to touch the Manager.
type inboundPacket struct {
	data []byte
	from netip.AddrPort
}

// recvLoop reads datagrams off the UDP socket and forwards them to the
// owning goroutine. It never touches the Manager itself.
func recvLoop(ctx context.Context, sock *netio.Socket, out chan<- inboundPacket, logger *slog.Logger) error {
	buf := make([]byte, recvBufSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, from, err := sock.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Debug("recv failed", slog.String("error", err.Error()))
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case out <- inboundPacket{data: cp, from: from}:
		case <-ctx.Done():
			return nil
		}
	}
}

// pumpLoop is the single goroutine that owns the Manager: it applies every
// inbound datagram via HandleIncoming, pumps AuthMgt, and drains
// TakeNextOutgoing, sending whatever it produces back out the socket. No
// other goroutine in this program ever touches mgr.
func pumpLoop(ctx context.Context, mgr *peer.Manager, sock *netio.Socket, in <-chan inboundPacket, collector *peervpnmetrics.Collector, logger *slog.Logger) error {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	outbuf := make([]byte, recvBufSize)

	drainOutgoing := func(now time.Time) {
		for {
			n, target, ok := mgr.TakeNextOutgoing(outbuf, now)
			if !ok {
				return
			}
			if target.IsInternal() || target.IsZero() {
				continue
			}
			if err := sock.Send(outbuf[:n], target.Direct()); err != nil {
				logger.Debug("send failed", slog.String("error", err.Error()))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt := <-in:
			now := time.Now()
			mgr.HandleIncoming(pkt.data, peer.DirectAddr(pkt.from), now)
			mgr.PumpAuth(now)
			drainOutgoing(now)
		case <-ticker.C:
			now := time.Now()
			mgr.PumpAuth(now)
			drainOutgoing(now)
		}
	}
}

// serveHTTP runs the Prometheus metrics endpoint until ctx is cancelled.
func serveHTTP(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", slog.String("addr", cfg.Addr), slog.String("path", cfg.Path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics on %s: %w", cfg.Addr, err)
	}
	return nil
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLogger creates a structured logger using a shared LevelVar so a future
// reload path (not currently wired; the Manager has no config-reload
// concept to drive from SIGHUP the way a session table would) could adjust
// verbosity without restarting.
func newLogger(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
