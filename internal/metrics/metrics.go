// Package metrics exposes Prometheus instrumentation for the scheduler and
// device fleet, plus the optional HTTP listener that serves it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "labd/pkg/logx"
)

type Collector struct {
	jobsScheduled prometheus.Counter
	jobsCancelled prometheus.Counter
	jobsFired     *prometheus.CounterVec
	pending       prometheus.Gauge
	deviceUp      *prometheus.GaugeVec

	registry *prometheus.Registry
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		jobsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "labd_jobs_scheduled_total",
			Help: "Jobs accepted by the timekeeper.",
		}),
		jobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "labd_jobs_cancelled_total",
			Help: "Pending jobs cancelled before firing.",
		}),
		jobsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labd_jobs_fired_total",
			Help: "Jobs dispatched, by outcome.",
		}, []string{"result"}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "labd_jobs_pending",
			Help: "Jobs currently waiting to fire.",
		}),
		deviceUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "labd_device_up",
			Help: "1 when the device answers its identification query.",
		}, []string{"device"}),
	}
}

func (c *Collector) JobScheduled() { c.jobsScheduled.Inc() }
func (c *Collector) JobCancelled() { c.jobsCancelled.Inc() }

func (c *Collector) JobFired(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.jobsFired.WithLabelValues(result).Inc()
}

func (c *Collector) SetPending(n int) { c.pending.Set(float64(n)) }

func (c *Collector) SetDeviceUp(device string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	c.deviceUp.WithLabelValues(device).Set(v)
}

// Server serves /metrics and /healthz on its own listener.
type Server struct {
	addr string
	log  logx.Logger
	srv  *http.Server
}

func NewServer(addr string, c *Collector, log logx.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &Server{
		addr: addr,
		log:  log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) Start() {
	go func() {
		s.log.Info("metrics listener started", logx.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics listener failed", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("metrics shutdown", logx.Err(err))
	}
}
