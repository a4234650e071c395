package audit

import (
	"log/slog"
	"time"
)

type options struct {
	maxRecords   int
	serializer   Serializer
	deserializer Deserializer
	logger       *slog.Logger
	metrics      Metrics
	now          func() time.Time
}

// Option configures a Tracker, Reverter or Engine.
type Option func(*options)

// WithMaxRecords sets the engine-wide retention default: keep only the n most
// recent changes per record. A type's Policy.MaxRecords overrides it.
// Default: 0 (unlimited).
func WithMaxRecords(n int) Option {
	return func(o *options) {
		o.maxRecords = n
	}
}

// WithSerializer replaces the reflection-based snapshot serializer.
func WithSerializer(s Serializer) Option {
	return func(o *options) {
		o.serializer = s
	}
}

// WithDeserializer replaces the reflection-based snapshot deserializer.
func WithDeserializer(d Deserializer) Option {
	return func(o *options) {
		o.deserializer = d
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the metrics sink. Default: no-op.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithNow sets the clock used to stamp empty created/updated fields of a
// record re-created by a revert. Default: time.Now in UTC.
func WithNow(fn func() time.Time) Option {
	return func(o *options) {
		o.now = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{
		serializer:   DefaultSerializer,
		deserializer: DefaultDeserializer,
		metrics:      nopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.serializer == nil {
		o.serializer = DefaultSerializer
	}
	if o.deserializer == nil {
		o.deserializer = DefaultDeserializer
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	return o
}
