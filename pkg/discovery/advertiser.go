package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration

	// Logger is the optional logger for operational output.
	Logger *slog.Logger
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: DefaultTTL}
}

// Advertiser publishes a biostream server over mDNS.
type Advertiser struct {
	config AdvertiserConfig
	logger *slog.Logger

	mu       sync.Mutex
	server   *zeroconf.Server
	instance string
}

// NewAdvertiser creates a new mDNS advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Advertiser{config: config, logger: logger}
}

// interfaces returns nil to use all interfaces.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		a.logger.Warn("mdns interface not found, using all", "interface", a.config.Interface, "error", err)
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise starts advertising info, replacing a previous advertisement.
// The advertisement ends with Stop or when ctx is cancelled.
func (a *Advertiser) Advertise(ctx context.Context, info *ServerInfo) error {
	instance := info.InstanceName
	if instance == "" {
		instance = DefaultInstanceName()
	}
	if err := ValidateInstanceName(instance); err != nil {
		return err
	}
	if info.Port == 0 {
		return fmt.Errorf("advertise %q: port is required", instance)
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdown()

	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		int(info.Port),
		TXTRecordsToStrings(EncodeServerTXT(info)),
		a.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	a.server = server
	a.instance = instance
	a.logger.Info("advertising server", "instance", instance, "port", info.Port, "devices", info.DeviceCount)

	context.AfterFunc(ctx, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.server == server {
			a.shutdown()
		}
	})
	return nil
}

// Update replaces the TXT records of the running advertisement.
func (a *Advertiser) Update(info *ServerInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ErrNotAdvertising
	}
	a.server.SetText(TXTRecordsToStrings(EncodeServerTXT(info)))
	return nil
}

// Instance returns the advertised instance name, empty when not advertising.
func (a *Advertiser) Instance() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instance
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdown()
}

// shutdown must be called with a.mu held.
func (a *Advertiser) shutdown() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.logger.Debug("advertisement withdrawn", "instance", a.instance)
	a.server = nil
	a.instance = ""
}
