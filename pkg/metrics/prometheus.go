package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMetricPath = "/metrics"

type Logger interface {
	Errorw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
}

// RouteLabelFn maps a request to its "route" label. Use the route template
// (c.FullPath()) to keep cardinality bounded.
type RouteLabelFn func(c *gin.Context) string

type NewPrometheusOptions struct {
	MetricsPath  string
	ListenAddr   string
	RouteLabelFn RouteLabelFn
	Logger       Logger
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Prometheus records request count, latency and sizes for every request of a
// gin engine and exposes them on a separate listener.
type Prometheus struct {
	reqCnt       *prometheus.CounterVec
	reqDur       *prometheus.HistogramVec
	reqSz, resSz *prometheus.SummaryVec

	metricsPath string
	listenAddr  string
	routeLabel  RouteLabelFn
	log         Logger
}

func NewPrometheus(opts NewPrometheusOptions) *Prometheus {
	labels := []string{"code", "method", "route"}
	p := &Prometheus{
		reqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests partitioned by status code, method and route.",
		}, labels),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_ms",
			Help: "HTTP request latencies in milliseconds.", Buckets: HistogramBuckets,
		}, labels),
		reqSz: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace, Name: "http_request_size_bytes",
			Help: "Approximate HTTP request sizes in bytes.",
		}, labels),
		resSz: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace, Name: "http_response_size_bytes",
			Help: "HTTP response sizes in bytes.",
		}, labels),
		metricsPath: opts.MetricsPath,
		listenAddr:  opts.ListenAddr,
		routeLabel:  opts.RouteLabelFn,
		log:         opts.Logger,
	}
	if p.metricsPath == "" {
		p.metricsPath = defaultMetricPath
	}
	if p.routeLabel == nil {
		p.routeLabel = func(c *gin.Context) string {
			if fp := c.FullPath(); fp != "" {
				return fp
			}
			return "unmatched"
		}
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p.reqCnt = register(reg, p.reqCnt, p.log)
	p.reqDur = register(reg, p.reqDur, p.log)
	p.reqSz = register(reg, p.reqSz, p.log)
	p.resSz = register(reg, p.resSz, p.log)
	return p
}

// register returns the already registered collector when one with the same
// descriptor exists, so building the engine twice in one process is safe.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, log Logger) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	if log != nil {
		log.Errorw("metric could not be registered", "err", err)
	}
	return c
}

// Use installs the middleware on e and serves the metrics endpoint: on its own
// listener when ListenAddr is set, else on e.
func (p *Prometheus) Use(e *gin.Engine) {
	e.Use(p.HandlerFunc())
	if p.listenAddr == "" {
		e.GET(p.metricsPath, prometheusHandler())
		return
	}
	r := gin.New()
	r.GET(p.metricsPath, prometheusHandler())
	go func() {
		if err := r.Run(p.listenAddr); err != nil && p.log != nil {
			p.log.Errorw("metrics listener stopped", "addr", p.listenAddr, "err", err)
		}
	}()
	if p.log != nil {
		p.log.Infow("metrics started", "addr", p.listenAddr, "path", p.metricsPath)
	}
}

func (p *Prometheus) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == p.metricsPath {
			c.Next()
			return
		}
		start := time.Now()
		reqSz := computeApproximateRequestSize(c.Request)

		c.Next()

		values := []string{strconv.Itoa(c.Writer.Status()), c.Request.Method, p.routeLabel(c)}
		p.reqDur.WithLabelValues(values...).Observe(MillisecondsSince(start))
		p.reqCnt.WithLabelValues(values...).Inc()
		p.reqSz.WithLabelValues(values...).Observe(float64(reqSz))
		p.resSz.WithLabelValues(values...).Observe(float64(c.Writer.Size()))
	}
}

func prometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func computeApproximateRequestSize(r *http.Request) int {
	s := len(r.Method) + len(r.Proto) + len(r.Host)
	if r.URL != nil {
		s += len(r.URL.Path)
	}
	for name, values := range r.Header {
		s += len(name)
		for _, v := range values {
			s += len(v)
		}
	}
	if r.ContentLength > 0 {
		s += int(r.ContentLength)
	}
	return s
}
