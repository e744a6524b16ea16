package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "records"

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PatientsCreated     prometheus.Counter
	VisitsAdded         prometheus.Counter
	AttachmentsAdded    *prometheus.CounterVec
	WriteConflicts      prometheus.Counter
	RecordAccesses      *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry, together with
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		PatientsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patients_created_total",
			Help:      "Total number of patients registered",
		}),
		VisitsAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visits_added_total",
			Help:      "Total number of visits recorded",
		}),
		AttachmentsAdded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_added_total",
			Help:      "Attachments stored, by scope (patient or visit)",
		}, []string{"scope"}),
		WriteConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_conflicts_total",
			Help:      "Saves rejected because the record changed underneath them",
		}),
		RecordAccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_access_total",
			Help:      "Audited API accesses, by action and resource",
		}, []string{"action", "resource"}),
	}
}

func (m *Metrics) PatientCreated() { m.PatientsCreated.Inc() }

func (m *Metrics) VisitAdded() { m.VisitsAdded.Inc() }

func (m *Metrics) AttachmentAdded(scope string) { m.AttachmentsAdded.WithLabelValues(scope).Inc() }

func (m *Metrics) WriteConflict() { m.WriteConflicts.Inc() }

// RecordAccess counts one audited access to a patient record resource.
func (m *Metrics) RecordAccess(action, resource string) {
	m.RecordAccesses.WithLabelValues(action, resource).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
