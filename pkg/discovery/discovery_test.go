package discovery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeServerTXT(t *testing.T) {
	txt := EncodeServerTXT(&ServerInfo{
		Port:        5555,
		DeviceCount: 2,
		Devices:     []string{"biosignalsplux", "Mixed, Model"},
	})
	assert.Equal(t, TXTRecordMap{
		"v":   "1",
		"n":   "2",
		"dev": "biosignalsplux,Mixed  Model",
	}, txt)

	assert.Equal(t, []string{"dev=biosignalsplux,Mixed  Model", "n=2", "v=1"}, TXTRecordsToStrings(txt))
}

func TestEncodeServerTXTNoDevices(t *testing.T) {
	txt := EncodeServerTXT(&ServerInfo{})
	_, ok := txt[TXTKeyDevices]
	assert.False(t, ok)
	assert.Equal(t, "0", txt[TXTKeyDeviceCount])
}

func TestEncodeServerTXTTruncatesDeviceList(t *testing.T) {
	long := strings.Repeat("x", 100)
	txt := EncodeServerTXT(&ServerInfo{DeviceCount: 3, Devices: []string{long, long, long}})

	assert.Equal(t, long+","+long, txt[TXTKeyDevices])
	for _, s := range TXTRecordsToStrings(txt) {
		assert.LessOrEqual(t, len(s), MaxTXTStringLen)
	}
	assert.Equal(t, "3", txt[TXTKeyDeviceCount])
}

func TestDecodeServerTXT(t *testing.T) {
	tests := []struct {
		name    string
		txt     TXTRecordMap
		want    *ServerService
		wantErr error
	}{
		{
			name: "full",
			txt:  TXTRecordMap{"v": "1", "n": "2", "dev": "a,b"},
			want: &ServerService{Version: 1, DeviceCount: 2, Devices: []string{"a", "b"}},
		},
		{
			name: "version only",
			txt:  TXTRecordMap{"v": "3"},
			want: &ServerService{Version: 3},
		},
		{name: "missing version", txt: TXTRecordMap{"n": "1"}, wantErr: ErrMissingRequired},
		{name: "bad version", txt: TXTRecordMap{"v": "one"}, wantErr: ErrInvalidTXTRecord},
		{name: "bad count", txt: TXTRecordMap{"v": "1", "n": "-1"}, wantErr: ErrInvalidTXTRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeServerTXT(tt.txt)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"v=1", "flag", "dev=a=b", ""})
	assert.Equal(t, TXTRecordMap{"v": "1", "flag": "", "dev": "a=b"}, txt)
}

func TestServiceEntryToServerService(t *testing.T) {
	e := &ServiceEntry{
		Instance: "biostream-lab",
		Host:     "lab.local.",
		Port:     5555,
		Text:     []string{"v=1", "n=1", "dev=biosignalsplux"},
		Addrs:    []string{"fe80::1", "192.168.1.20"},
	}
	svc, err := e.ToServerService()
	require.NoError(t, err)
	assert.Equal(t, "biostream-lab", svc.InstanceName)
	assert.Equal(t, uint16(5555), svc.Port)
	assert.Equal(t, []string{"biosignalsplux"}, svc.Devices)
	assert.Equal(t, "192.168.1.20:5555", svc.Address())

	_, err = (&ServiceEntry{Instance: "other", Text: []string{"foo=bar"}}).ToServerService()
	assert.ErrorIs(t, err, ErrMissingRequired)
}

func TestServerServiceAddress(t *testing.T) {
	tests := []struct {
		name string
		svc  ServerService
		want string
	}{
		{"ipv6 only", ServerService{Host: "h.local.", Port: 1, Addresses: []string{"fe80::1"}}, "[fe80::1]:1"},
		{"host fallback", ServerService{Host: "h.local.", Port: 2}, "h.local.:2"},
		{"ipv4 first", ServerService{Host: "h", Port: 3, Addresses: []string{"10.0.0.1", "fe80::1"}}, "10.0.0.1:3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.svc.Address())
		})
	}
}

func TestAddressAggregation(t *testing.T) {
	addrs := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "fe80::1"})
	assert.Equal(t, []string{"10.0.0.1", "fe80::1"}, addrs)

	addrs = removeAddresses(addrs, []string{"10.0.0.1"})
	assert.Equal(t, []string{"fe80::1"}, addrs)
}

func TestInstanceNames(t *testing.T) {
	assert.Error(t, ValidateInstanceName(""))
	assert.ErrorIs(t, ValidateInstanceName(strings.Repeat("a", 64)), ErrInstanceNameTooLong)
	assert.NoError(t, ValidateInstanceName("biostream-lab"))

	name := DefaultInstanceName()
	assert.True(t, strings.HasPrefix(name, "biostream-"))
	assert.NoError(t, ValidateInstanceName(name))
}

func TestAdvertiserUpdateWithoutAdvertise(t *testing.T) {
	a := NewAdvertiser(DefaultAdvertiserConfig())
	assert.ErrorIs(t, a.Update(&ServerInfo{}), ErrNotAdvertising)
	assert.Empty(t, a.Instance())
	a.Stop()
}
