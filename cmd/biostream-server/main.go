// Command biostream-server exposes biosignal acquisition devices to TCP
// clients.
//
// Devices are addressed as "<domain>:<address>". The server offers
// simulated devices ("sim:...") from its configuration and, when enabled,
// serial devices ("serial:/dev/ttyUSB0"). Clients connect, request a list
// of paths and receive interleaved frames until they disconnect.
//
// Usage:
//
//	biostream-server [flags]
//
// Examples:
//
//	# Two simulated devices on the default port
//	biostream-server --sim a=biosignalsplux --sim b=OpenBANPlux@500
//
//	# From a config file, with metrics and mDNS advertisement
//	biostream-server --config /etc/biostream/server.yaml --metrics-listen :9100 --mdns
//
//	# Serial devices plus a protocol capture
//	biostream-server --serial-description pressure-insole --protocol-log server.bslog
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/biostream/biostream-go/pkg/device"
	"github.com/biostream/biostream-go/pkg/discovery"
	"github.com/biostream/biostream-go/pkg/driver/serial"
	"github.com/biostream/biostream-go/pkg/driver/sim"
	"github.com/biostream/biostream-go/pkg/log"
	"github.com/biostream/biostream-go/pkg/metrics"
	"github.com/biostream/biostream-go/pkg/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level, _ := parseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	protocolLog, closeCapture, err := openCapture(cfg.Log.ProtocolLog, logger, level)
	if err != nil {
		return err
	}
	defer closeCapture()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := device.NewRouter()
	router.Register(sim.Domain, sim.NewBackend(cfg.Sim...))
	if cfg.Serial != nil {
		router.Register(serial.Domain, serial.NewBackend(*cfg.Serial, serial.WithLogger(logger.With("component", "serial"))))
	}
	manager := device.NewManager(device.ManagerConfig{
		Backend:        router,
		Logger:         logger.With("component", "devices"),
		ProtocolLogger: protocolLog,
	})

	m := metrics.New()
	srv, err := transport.NewServer(transport.ServerConfig{
		Address:          cfg.Listen,
		Devices:          manager,
		MaxConnections:   cfg.MaxConnections,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		Logger:           logger.With("component", "server"),
		ProtocolLogger:   protocolLog,
		CaptureFrames:    cfg.Log.CaptureFrames,
		Metrics:          m,
		OnConnect: func(h *transport.Handler) {
			logger.Debug("connection accepted", "conn_id", h.ID(), "remote", h.RemoteAddr())
		},
		OnDisconnect: func(h *transport.Handler) {
			logger.Info("client disconnected", "conn_id", h.ID(), "remote", h.RemoteAddr(), "devices", len(h.Devices()))
		},
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("biostream server listening", "addr", srv.Addr().String(), "domains", router.Domains())

	if cfg.ScanOnStart {
		devices, err := manager.Scan(ctx, "")
		if err != nil {
			logger.Warn("initial scan incomplete", "error", err)
		}
		logger.Info("initial scan done", "devices", len(devices))
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			metrics.NewDeviceCollector(manager),
		)
		if err := m.Register(reg); err != nil {
			srv.Stop()
			return fmt.Errorf("register metrics: %w", err)
		}
		httpSrv := metrics.NewHTTPServer(cfg.Metrics.Listen, reg, cfg.Metrics.Path)
		g.Go(func() error {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Discovery.Enabled {
		g.Go(func() error {
			return advertise(gctx, cfg.Discovery, srv, router, logger)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return srv.Stop()
	})

	return g.Wait()
}

// openCapture opens the protocol capture file. At debug level protocol
// events are also mirrored to the operational log.
func openCapture(path string, logger *slog.Logger, level slog.Level) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeFn := func() {}
	if path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = func() {
			if err := fl.Close(); err != nil {
				logger.Warn("protocol log incomplete", "path", path, "error", err)
			}
			logger.Info("protocol log closed", "path", path, "events", fl.Written())
		}
	}
	if level <= slog.LevelDebug {
		loggers = append(loggers, log.NewSlogAdapter(logger.With("component", "protocol")))
	}

	switch len(loggers) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return loggers[0], closeFn, nil
	default:
		return log.NewMultiLogger(loggers...), closeFn, nil
	}
}

// advertise publishes the server over mDNS until ctx ends. Failures are
// logged; the server keeps running without advertisement.
func advertise(ctx context.Context, cfg DiscoveryConfig, srv *transport.Server, devices device.Discoverer, logger *slog.Logger) error {
	tcpAddr, ok := srv.Addr().(*net.TCPAddr)
	if !ok {
		return nil
	}

	info := &discovery.ServerInfo{
		InstanceName: cfg.Instance,
		Port:         uint16(tcpAddr.Port),
	}
	found, err := devices.FindDevices(ctx, "")
	if err != nil {
		logger.Warn("device discovery for advertisement incomplete", "error", err)
	}
	info.DeviceCount = len(found)
	for _, f := range found {
		info.Devices = append(info.Devices, f.Description)
	}

	advCfg := discovery.DefaultAdvertiserConfig()
	advCfg.Interface = cfg.Interface
	advCfg.Logger = logger.With("component", "mdns")
	adv := discovery.NewAdvertiser(advCfg)
	if err := adv.Advertise(ctx, info); err != nil {
		logger.Warn("mDNS advertisement failed", "error", err)
		return nil
	}
	logger.Info("advertising over mDNS", "instance", adv.Instance(), "service", discovery.ServiceType)

	<-ctx.Done()
	adv.Stop()
	return nil
}
