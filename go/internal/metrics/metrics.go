package metrics

import (
	"net/http"
	"time"

	"github.com/mcdev12/reflex/go/internal/room"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reflex"

// Collector implements the coordinator observer and a room broadcaster on top
// of Prometheus metrics. It owns its registry so tests and multiple servers do
// not collide on the default one.
type Collector struct {
	registry *prometheus.Registry

	activeRooms       prometheus.Gauge
	roomMembers       prometheus.Gauge
	connections       prometheus.Gauge
	eventsBroadcast   *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	ignoredEvents     *prometheus.CounterVec
	roundsCompleted   prometheus.Counter
	countdownDelay    prometheus.Histogram
	busPublishResults *prometheus.CounterVec
}

// New registers every collector, including the Go runtime and process
// collectors, on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms currently held by the coordinator.",
		}),
		roomMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_members",
			Help:      "Connections currently joined to a room.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		}),
		eventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_broadcast_total",
			Help:      "Room broadcasts by event type.",
		}, []string{"event_type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_deliveries_total",
			Help:      "Per-recipient deliveries by event type.",
		}, []string{"event_type"}),
		ignoredEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ignored_events_total",
			Help:      "Inbound events dropped as protocol violations.",
		}, []string{"op", "reason"}),
		roundsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_completed_total",
			Help:      "Rounds that reached the completion barrier.",
		}),
		countdownDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "countdown_delay_seconds",
			Help:      "Sampled countdown delays.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		busPublishResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_total",
			Help:      "Event bus publish attempts by outcome.",
		}, []string{"event_type", "status"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.activeRooms,
		c.roomMembers,
		c.connections,
		c.eventsBroadcast,
		c.deliveries,
		c.ignoredEvents,
		c.roundsCompleted,
		c.countdownDelay,
		c.busPublishResults,
	)
	return c
}

// Handler exposes the registry at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Broadcast counts outbound room events.
func (c *Collector) Broadcast(recipients []string, event room.Event) {
	c.eventsBroadcast.WithLabelValues(string(event.Type)).Inc()
	c.deliveries.WithLabelValues(string(event.Type)).Add(float64(len(recipients)))
}

func (c *Collector) Ignored(op, reason string) {
	c.ignoredEvents.WithLabelValues(op, reason).Inc()
}

func (c *Collector) CountdownScheduled(delay time.Duration) {
	c.countdownDelay.Observe(delay.Seconds())
}

func (c *Collector) RoundCompleted() {
	c.roundsCompleted.Inc()
}

func (c *Collector) RoomsChanged(rooms, members int) {
	c.activeRooms.Set(float64(rooms))
	c.roomMembers.Set(float64(members))
}

// ConnectionOpened and ConnectionClosed track websocket connections.
func (c *Collector) ConnectionOpened() { c.connections.Inc() }
func (c *Collector) ConnectionClosed() { c.connections.Dec() }

// RecordPublish counts one bus publish attempt.
func (c *Collector) RecordPublish(eventType string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.busPublishResults.WithLabelValues(eventType, status).Inc()
}
