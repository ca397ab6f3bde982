package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/biostream/biostream-go/pkg/device"
)

// DeviceLister is implemented by device.Manager.
type DeviceLister interface {
	Devices() []*device.Device
}

// DeviceCollector reports acquisition counters of every registered device.
type DeviceCollector struct {
	devices DeviceLister

	frames      *prometheus.Desc
	dropped     *prometheus.Desc
	subscribers *prometheus.Desc
	state       *prometheus.Desc
	registered  *prometheus.Desc
}

// NewDeviceCollector creates a collector reading from devices.
func NewDeviceCollector(devices DeviceLister) *DeviceCollector {
	labels := []string{"path", "description"}
	return &DeviceCollector{
		devices: devices,
		frames: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "device", "frames_total"),
			"Total number of frames acquired", labels, nil),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "device", "frames_dropped_total"),
			"Total number of frames lost between consecutive counters", labels, nil),
		subscribers: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "device", "subscribers"),
			"Number of connections receiving frames", labels, nil),
		state: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "device", "state"),
			"Device state (0=idle, 1=connected, 2=streaming)", labels, nil),
		registered: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "device", "registered"),
			"Number of registered devices", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *DeviceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.frames
	ch <- c.dropped
	ch <- c.subscribers
	ch <- c.state
	ch <- c.registered
}

// Collect implements prometheus.Collector.
func (c *DeviceCollector) Collect(ch chan<- prometheus.Metric) {
	devices := c.devices.Devices()
	ch <- prometheus.MustNewConstMetric(c.registered, prometheus.GaugeValue, float64(len(devices)))
	for _, d := range devices {
		stats := d.Stats()
		labels := []string{d.Path(), d.Description()}
		ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(stats.Frames), labels...)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(stats.Dropped), labels...)
		ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(stats.Subscribers), labels...)
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(d.State()), labels...)
	}
}

var _ prometheus.Collector = (*DeviceCollector)(nil)
