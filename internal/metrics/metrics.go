package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's counters on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	eventsDispatched *prometheus.CounterVec
	handlerFailures  *prometheus.CounterVec
	kudosPoints      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eggbot_events_dispatched_total",
			Help: "Events dispatched to handlers, by event type.",
		}, []string{"type"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eggbot_handler_failures_total",
			Help: "Handler invocations that returned an error or panicked, by event type.",
		}, []string{"type"}),
		kudosPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eggbot_kudos_points_total",
			Help: "Absolute kudos points applied, by direction.",
		}, []string{"direction"}),
	}

	m.Registry.MustRegister(m.eventsDispatched, m.handlerFailures, m.kudosPoints)
	return m
}

func (m *Metrics) EventDispatched(kind string) {
	m.eventsDispatched.WithLabelValues(kind).Inc()
}

func (m *Metrics) HandlerFailed(kind string) {
	m.handlerFailures.WithLabelValues(kind).Inc()
}

// KudosApplied counts the absolute size of a delta under "gain" or "loss".
func (m *Metrics) KudosApplied(delta int) {
	if delta < 0 {
		m.kudosPoints.WithLabelValues("loss").Add(float64(-delta))
		return
	}
	m.kudosPoints.WithLabelValues("gain").Add(float64(delta))
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Failed to stop metrics server: %v", err)
		}
	}()

	log.Infof("Serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
