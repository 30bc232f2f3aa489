// Package middleware provides the pipeline middlewares most dispatchers want:
// structured logging, OpenTelemetry spans, Prometheus metrics, panic
// recovery and lifecycle hooks. Each one is a distinct type so pipelines can
// remove or reconfigure it with pipeline.Without and pipeline.Configure.
package middleware

import (
	"reflect"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/relay/internal/runtime/config"
	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/pipeline"
)

// Use returns a pipeline configuration appending middlewares in order.
func Use[P, R any](middlewares ...pipeline.Middleware[P, R]) pipeline.ConfigureFunc[P, R] {
	return func(p *pipeline.Pipeline[P, R]) error {
		p.Use(middlewares...)
		return nil
	}
}

// Defaults returns the standard middleware chain for conf: recovery and
// logging always, tracing and metrics when enabled. collectors may be nil
// when metrics are disabled.
func Defaults[P, R any](conf *config.Config, logger logging.ServiceLogger, collectors *Collectors) pipeline.ConfigureFunc[P, R] {
	var (
		once       sync.Once
		collectErr error
	)
	metrics := func() (*Collectors, error) {
		once.Do(func() {
			if collectors != nil {
				return
			}
			collectors = NewCollectors(conf.Namespace())
			collectErr = collectors.Register(prometheus.DefaultRegisterer)
		})
		return collectors, collectErr
	}

	return func(p *pipeline.Pipeline[P, R]) error {
		logPayloads := false
		if conf != nil {
			logPayloads = conf.LogPayloads
		}

		p.Use(NewRecover[P, R](logger), NewLogging[P, R](logger, logPayloads))
		if conf == nil {
			return nil
		}
		if conf.TracingEnabled {
			p.Use(NewTracing[P, R](nil))
		}
		if conf.MetricsEnabled {
			c, err := metrics()
			if err != nil {
				return err
			}
			p.Use(NewMetrics[P, R](c))
		}
		return nil
	}
}

func payloadTypeName[P any]() string {
	return reflect.TypeFor[P]().String()
}
