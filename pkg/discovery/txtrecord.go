package discovery

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServerTXT creates the TXT records of a server advertisement. The
// device list is cut at a whole entry so the record stays within
// MaxTXTStringLen.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyVersion:     strconv.Itoa(ProtocolVersion),
		TXTKeyDeviceCount: strconv.Itoa(info.DeviceCount),
	}

	limit := MaxTXTStringLen - len(TXTKeyDevices) - 1
	var b strings.Builder
	for _, d := range info.Devices {
		d = strings.ReplaceAll(d, ",", " ")
		if d == "" {
			continue
		}
		n := len(d)
		if b.Len() > 0 {
			n++
		}
		if b.Len()+n > limit {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(d)
	}
	if b.Len() > 0 {
		txt[TXTKeyDevices] = b.String()
	}
	return txt
}

// DecodeServerTXT parses the TXT records of a server advertisement.
// Only the version is required.
func DecodeServerTXT(txt TXTRecordMap) (*ServerService, error) {
	vStr, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	v, err := strconv.Atoi(vStr)
	if err != nil || v <= 0 {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyVersion, vStr)
	}

	svc := &ServerService{Version: v}
	if nStr, ok := txt[TXTKeyDeviceCount]; ok {
		n, err := strconv.Atoi(nStr)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyDeviceCount, nStr)
		}
		svc.DeviceCount = n
	}
	if dev := txt[TXTKeyDevices]; dev != "" {
		svc.Devices = strings.Split(dev, ",")
	}
	return svc, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, ok := strings.Cut(s, "=")
		switch {
		case ok:
			txt[k] = v
		case k != "":
			// Key without value (boolean flag)
			txt[k] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}

// DefaultInstanceName returns "biostream-<hostname>", cut to the DNS label
// limit.
func DefaultInstanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "server"
	}
	host, _, _ = strings.Cut(host, ".")
	name := "biostream-" + host
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}
