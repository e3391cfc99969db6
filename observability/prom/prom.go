// Package prom bridges the relay's observability.TunnelObserver events to
// Prometheus, adapted from the teacher's own prometheus wiring shape
// (one struct per observed subsystem, registered once, exposed through a
// single promhttp handler).
package prom

import (
	"net/http"
	"time"

	"github.com/macqgoye/NRelay/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// TunnelObserver exports relay tunnel lifecycle and traffic metrics to
// Prometheus: tunnels registered, control attach/detach events, rendezvous
// outcomes, sniffer outcomes by kind, and bytes pumped per direction.
type TunnelObserver struct {
	tunnelsRegistered *prometheus.CounterVec
	controlAttached   prometheus.Counter
	controlDetached   prometheus.Counter
	controlReplaced   prometheus.Counter
	rendezvousTotal   *prometheus.CounterVec
	rendezvousLatency prometheus.Histogram
	snifferTotal      *prometheus.CounterVec
	pumpClosedTotal   *prometheus.CounterVec
	bytesPumped       *prometheus.CounterVec
}

// NewTunnelObserver registers the relay's tunnel metrics on reg.
func NewTunnelObserver(reg *prometheus.Registry) *TunnelObserver {
	o := &TunnelObserver{
		tunnelsRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nrelay_tunnels_registered_total",
			Help: "Tunnels inserted into the registry, by kind.",
		}, []string{"kind"}),
		controlAttached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nrelay_control_attached_total",
			Help: "Control channel attach events.",
		}),
		controlDetached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nrelay_control_detached_total",
			Help: "Control channel detach events.",
		}),
		controlReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nrelay_control_replaced_total",
			Help: "Control channel replacement events (a new connection pre-empted a live one).",
		}),
		rendezvousTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nrelay_rendezvous_total",
			Help: "Rendezvous outcomes between a public connection and a data connection.",
		}, []string{"result"}),
		rendezvousLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nrelay_rendezvous_latency_seconds",
			Help:    "Latency from pending-slot enqueue to rendezvous resolution.",
			Buckets: prometheus.DefBuckets,
		}),
		snifferTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nrelay_sniffer_outcomes_total",
			Help: "Layer-7 sniffer outcomes by protocol kind and result.",
		}, []string{"kind", "outcome"}),
		pumpClosedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nrelay_pump_closed_total",
			Help: "Bidirectional pump sessions closed, by reason.",
		}, []string{"reason"}),
		bytesPumped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nrelay_bytes_pumped_total",
			Help: "Bytes pumped between peer and tunnel sockets, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(
		o.tunnelsRegistered,
		o.controlAttached,
		o.controlDetached,
		o.controlReplaced,
		o.rendezvousTotal,
		o.rendezvousLatency,
		o.snifferTotal,
		o.pumpClosedTotal,
		o.bytesPumped,
	)
	return o
}

func (o *TunnelObserver) OnTunnelRegistered(_ string, kind string) {
	o.tunnelsRegistered.WithLabelValues(kind).Inc()
}

func (o *TunnelObserver) OnControlAttached(string) { o.controlAttached.Inc() }
func (o *TunnelObserver) OnControlDetached(string) { o.controlDetached.Inc() }
func (o *TunnelObserver) OnControlReplaced(string) { o.controlReplaced.Inc() }

func (o *TunnelObserver) OnRendezvous(_ string, result observability.RendezvousResult, d time.Duration) {
	o.rendezvousTotal.WithLabelValues(string(result)).Inc()
	o.rendezvousLatency.Observe(d.Seconds())
}

func (o *TunnelObserver) OnSniffer(kind string, outcome observability.SnifferOutcome) {
	o.snifferTotal.WithLabelValues(kind, string(outcome)).Inc()
}

func (o *TunnelObserver) OnPumpClosed(_ string, reason observability.PumpCloseReason) {
	o.pumpClosedTotal.WithLabelValues(string(reason)).Inc()
}

func (o *TunnelObserver) BytesPumped(_ string, direction observability.Direction, n int64) {
	o.bytesPumped.WithLabelValues(string(direction)).Add(float64(n))
}
