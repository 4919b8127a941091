package channel

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Option func(*options)

type options struct {
	name    string
	logger  zerolog.Logger
	metrics *Metrics
}

func defaultOptions(name string) options {
	return options{
		name:   name,
		logger: log.Logger,
	}
}

// WithName labels logs and metrics, e.g. "control" or "payload".
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}
