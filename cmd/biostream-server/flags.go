package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/biostream/biostream-go/pkg/driver/serial"
)

// parseFlags loads the config file named by --config and applies every
// flag that was set explicitly on top of it.
func parseFlags(args []string) (Config, error) {
	fs := pflag.NewFlagSet("biostream-server", pflag.ContinueOnError)
	fs.SortFlags = false

	defaults := DefaultConfig()
	configFile := fs.StringP("config", "c", "", "Configuration file (.yaml, .yml or .toml)")
	listen := fs.StringP("listen", "l", defaults.Listen, "TCP listen address")
	maxConns := fs.Int("max-connections", 0, "Maximum concurrent connections (0 = unlimited)")
	handshakeTimeout := fs.Duration("handshake-timeout", defaults.HandshakeTimeout, "Time allowed for the client request (negative disables)")
	writeTimeout := fs.Duration("write-timeout", defaults.WriteTimeout, "Time allowed for one frame write (negative disables)")
	scan := fs.Bool("scan", false, "Connect every discoverable device at startup")
	simDevices := fs.StringArray("sim", nil, "Simulated device address=description[@frequency] (repeatable)")
	serialDesc := fs.String("serial-description", "", "Enable the serial backend for devices of this description")
	serialBaud := fs.Int("serial-baud", serial.DefaultBaudRate, "Serial baud rate")
	serialPorts := fs.StringSlice("serial-port", nil, "Serial ports to offer (default: enumerate)")
	logLevel := fs.String("log-level", defaults.Log.Level, "Log level: debug, info, warn, error")
	protocolLog := fs.String("protocol-log", "", "Write a CBOR protocol capture to this file")
	captureFrames := fs.Bool("capture-frames", false, "Include every sent frame in the protocol capture")
	metricsListen := fs.String("metrics-listen", "", "Serve Prometheus metrics on this address")
	mdns := fs.Bool("mdns", false, "Advertise the server over mDNS")
	mdnsName := fs.String("mdns-name", "", "mDNS instance name (default: biostream-<hostname>)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "biostream-server - biosignal device adapter\n\nUsage:\n  biostream-server [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	cfg := defaults
	if *configFile != "" {
		var err error
		if cfg, err = LoadConfig(*configFile); err != nil {
			return Config{}, err
		}
	}

	if fs.Changed("listen") {
		cfg.Listen = *listen
	}
	if fs.Changed("max-connections") {
		cfg.MaxConnections = *maxConns
	}
	if fs.Changed("handshake-timeout") {
		cfg.HandshakeTimeout = *handshakeTimeout
	}
	if fs.Changed("write-timeout") {
		cfg.WriteTimeout = *writeTimeout
	}
	if fs.Changed("scan") {
		cfg.ScanOnStart = *scan
	}
	for _, s := range *simDevices {
		d, err := parseSimFlag(s)
		if err != nil {
			return Config{}, err
		}
		cfg.Sim = append(cfg.Sim, d)
	}
	if fs.Changed("serial-description") {
		if cfg.Serial == nil {
			cfg.Serial = &serial.BackendConfig{}
		}
		cfg.Serial.Description = *serialDesc
	}
	if cfg.Serial != nil {
		if fs.Changed("serial-baud") {
			cfg.Serial.BaudRate = *serialBaud
		}
		if fs.Changed("serial-port") {
			cfg.Serial.Ports = *serialPorts
		}
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if fs.Changed("protocol-log") {
		cfg.Log.ProtocolLog = *protocolLog
	}
	if fs.Changed("capture-frames") {
		cfg.Log.CaptureFrames = *captureFrames
	}
	if fs.Changed("metrics-listen") {
		cfg.Metrics.Listen = *metricsListen
	}
	if fs.Changed("mdns") {
		cfg.Discovery.Enabled = *mdns
	}
	if fs.Changed("mdns-name") {
		cfg.Discovery.Instance = *mdnsName
	}
	return cfg, cfg.Validate()
}
