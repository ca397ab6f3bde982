package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of biostream servers.
	ServiceType = "_biostream._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// ProtocolVersion is advertised in the v TXT key.
	ProtocolVersion = 1
)

// TXT record keys.
const (
	TXTKeyVersion     = "v"   // Protocol version
	TXTKeyDeviceCount = "n"   // Registered device count
	TXTKeyDevices     = "dev" // Comma-separated descriptions
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for FindServer.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTStringLen is the size limit of one "key=value" TXT string.
	MaxTXTStringLen = 255
)

// Discovery errors.
var (
	ErrNotFound            = errors.New("service not found")
	ErrMissingRequired     = errors.New("missing required TXT field")
	ErrInvalidTXTRecord    = errors.New("invalid TXT record")
	ErrInstanceNameTooLong = errors.New("instance name too long")
	ErrNotAdvertising      = errors.New("not advertising")
)

// ServerInfo is what a server advertises.
type ServerInfo struct {
	// InstanceName is the DNS-SD instance (empty selects the default).
	InstanceName string

	// Port is the TCP port of the biostream server.
	Port uint16

	// DeviceCount is the number of registered devices.
	DeviceCount int

	// Devices lists the hardware descriptions of the registered devices.
	Devices []string
}

// ServerService is a discovered biostream server.
type ServerService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Version     int
	DeviceCount int
	Devices     []string
}

// Address returns a dialable "host:port", preferring an IPv4 address.
func (s *ServerService) Address() string {
	host := s.Host
	for _, a := range s.Addresses {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			host = a
			break
		}
		if host == s.Host {
			host = a
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}
