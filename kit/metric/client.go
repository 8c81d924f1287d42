// Package metric provides RED (rate, errors, duration) instrumentation for
// service middlewares.
package metric

import (
	"time"

	"github.com/influxdata/dagmigrate"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dagmigrate"

// REDClient records call counts, error counts and call durations for the
// operations of one service.
type REDClient struct {
	calls    *prometheus.CounterVec
	errs     *prometheus.CounterVec
	duration *prometheus.HistogramVec

	now func() time.Time
}

// New creates a REDClient for service and registers its collectors with reg.
func New(reg prometheus.Registerer, service string) *REDClient {
	c := &REDClient{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "call_total",
			Help:      "Number of calls",
		}, []string{"method"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "call_error_total",
			Help:      "Number of calls that returned an error",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "call_duration_seconds",
			Help:      "Duration of calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		now: time.Now,
	}
	reg.MustRegister(c.calls, c.errs, c.duration)
	return c
}

// Record starts timing a call to method. The returned function must be
// called with the call's error once it completes; it returns that error
// unchanged so it can wrap a return statement.
func (c *REDClient) Record(method string) func(error) error {
	start := c.now()
	return func(err error) error {
		c.calls.WithLabelValues(method).Inc()
		if err != nil {
			code := dagmigrate.ErrorCode(err)
			if code == "" {
				code = "internal"
			}
			c.errs.WithLabelValues(method, code).Inc()
		}
		c.duration.WithLabelValues(method).Observe(c.now().Sub(start).Seconds())
		return err
	}
}
