// Package metrics exposes server counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private Prometheus registry so tests can build as many
// as they like.
type Collector struct {
	reg *prometheus.Registry

	roomsActive       prometheus.Gauge
	connectionsActive prometheus.Gauge
	frames            prometheus.Counter
	inputsDefaulted   prometheus.Counter
	inputsBuffered    prometheus.Counter
	inputsStale       prometheus.Counter
	inputsRejected    prometheus.Counter
	decodeFailures    *prometheus.CounterVec
	archiveDropped    prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		roomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tinysync_rooms_active",
			Help: "Rooms currently registered.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tinysync_connections_active",
			Help: "Open realtime connections.",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinysync_frames_total",
			Help: "Frame packages broadcast across all rooms.",
		}),
		inputsDefaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinysync_inputs_defaulted_total",
			Help: "Frame slots filled with the no-command input.",
		}),
		inputsBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinysync_inputs_buffered_total",
			Help: "Frame slots filled from inputs sent ahead of time.",
		}),
		inputsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinysync_inputs_stale_total",
			Help: "Inputs dropped because their frame was already broadcast.",
		}),
		inputsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinysync_inputs_rejected_total",
			Help: "Inputs dropped because they target a frame past the input horizon.",
		}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tinysync_decode_failures_total",
			Help: "Packets dropped because they could not be decoded.",
		}, []string{"stage"}),
		archiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinysync_archive_dropped_total",
			Help: "Archive events dropped because the writer fell behind.",
		}),
	}
	c.reg.MustRegister(
		c.roomsActive,
		c.connectionsActive,
		c.frames,
		c.inputsDefaulted,
		c.inputsBuffered,
		c.inputsStale,
		c.inputsRejected,
		c.decodeFailures,
		c.archiveDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) RoomsActive(n int) { c.roomsActive.Set(float64(n)) }

func (c *Collector) FrameBroadcast(defaulted, buffered int) {
	c.frames.Inc()
	c.inputsDefaulted.Add(float64(defaulted))
	c.inputsBuffered.Add(float64(buffered))
}

func (c *Collector) StaleInput()         { c.inputsStale.Inc() }
func (c *Collector) InputBeyondHorizon() { c.inputsRejected.Inc() }
func (c *Collector) ArchiveDropped()     { c.archiveDropped.Inc() }

func (c *Collector) ConnectionOpened() { c.connectionsActive.Inc() }
func (c *Collector) ConnectionClosed() { c.connectionsActive.Dec() }

// DecodeFailure counts a dropped packet; stage names the layer that
// rejected it, such as "envelope", "room_message" or "player_input".
func (c *Collector) DecodeFailure(stage string) {
	c.decodeFailures.WithLabelValues(stage).Inc()
}

// Registry returns the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}
