// Package metrics exposes prometheus instrumentation for the push channel,
// the polling fallback and the write path. A nil *Metrics records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qaboard"

type Metrics struct {
	framesTotal   *prometheus.CounterVec
	framesDropped prometheus.Counter
	reconnects    prometheus.Counter
	connState     prometheus.Gauge
	pollsTotal    *prometheus.CounterVec
	writesTotal   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "frames_total",
			Help:      "Push frames routed, by kind.",
		}, []string{"kind"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "frames_dropped_total",
			Help:      "Push frames dropped because they could not be decoded.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after an abnormal close.",
		}),
		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "connection_state",
			Help:      "Current connection state (0 idle, 1 connecting, 2 open, 3 closed clean, 4 closed error).",
		}),
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Fallback polls, by result.",
		}, []string{"result"}),
		writesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Write submissions, by operation and result.",
		}, []string{"op", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.framesTotal, m.framesDropped, m.reconnects, m.connState, m.pollsTotal, m.writesTotal)
	}
	return m
}

func (m *Metrics) FrameRouted(kind string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) ConnectionState(state int) {
	if m == nil {
		return
	}
	m.connState.Set(float64(state))
}

func (m *Metrics) Poll(err error) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Write(op string, err error) {
	if m == nil {
		return
	}
	m.writesTotal.WithLabelValues(op, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
