// Package discovery implements mDNS/DNS-SD discovery of biostream servers.
//
// Servers advertise one service instance of type _biostream._tcp in the
// local domain. Instance name defaults to "biostream-<hostname>".
//
// TXT records:
//   - v:   protocol version
//   - n:   number of devices currently registered
//   - dev: comma-separated device descriptions (truncated to fit one record)
//
// Clients browse for the service and connect to the advertised port. The
// TXT record is informational; the handshake is authoritative for the
// device list.
package discovery
