package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/ding"
)

// Common attribute keys used across ding instruments.
const (
	AttrChannel = attribute.Key("ding.channel")
	AttrOutcome = attribute.Key("ding.outcome")
	AttrState   = attribute.Key("ding.state")
	AttrStatus  = attribute.Key("ding.dispatch.status")
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session lifecycle metrics
	SessionsCreatedTotal    metric.Int64Counter
	SessionTransitionsTotal metric.Int64Counter
	SessionsExpiredTotal    metric.Int64Counter
	UnknownCodeScansTotal   metric.Int64Counter

	// Dispatch metrics
	DispatchDuration    metric.Float64Histogram
	ChannelSendDuration metric.Float64Histogram
	ChannelOutcomeTotal metric.Int64Counter

	// Hub metrics
	LiveConnections   metric.Int64UpDownCounter
	HubPublishedTotal metric.Int64Counter

	// Event sink metrics
	EventSinkErrorsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Session lifecycle metrics
	m.SessionsCreatedTotal, _ = meter.Int64Counter(
		"ding.sessions.created.total",
		metric.WithDescription("Total number of sessions created from scans"),
		metric.WithUnit("{session}"),
	)

	m.SessionTransitionsTotal, _ = meter.Int64Counter(
		"ding.sessions.transitions.total",
		metric.WithDescription("Total number of session state transitions by target state"),
		metric.WithUnit("{transition}"),
	)

	m.SessionsExpiredTotal, _ = meter.Int64Counter(
		"ding.sessions.expired.total",
		metric.WithDescription("Total number of sessions expired by the sweep"),
		metric.WithUnit("{session}"),
	)

	m.UnknownCodeScansTotal, _ = meter.Int64Counter(
		"ding.scans.unknown_code.total",
		metric.WithDescription("Total number of scans for codes that were never registered"),
		metric.WithUnit("{scan}"),
	)

	// Dispatch metrics
	m.DispatchDuration, _ = meter.Float64Histogram(
		"ding.dispatch.duration",
		metric.WithDescription("Duration of a full notification fan-out"),
		metric.WithUnit("ms"),
	)

	m.ChannelSendDuration, _ = meter.Float64Histogram(
		"ding.channel.send.duration",
		metric.WithDescription("Duration of a single channel send"),
		metric.WithUnit("ms"),
	)

	m.ChannelOutcomeTotal, _ = meter.Int64Counter(
		"ding.channel.outcomes.total",
		metric.WithDescription("Total number of recorded channel outcomes"),
		metric.WithUnit("{outcome}"),
	)

	// Hub metrics
	m.LiveConnections, _ = meter.Int64UpDownCounter(
		"ding.hub.connections.active",
		metric.WithDescription("Number of registered live connections"),
		metric.WithUnit("{connection}"),
	)

	m.HubPublishedTotal, _ = meter.Int64Counter(
		"ding.hub.published.total",
		metric.WithDescription("Total number of events accepted by live connections"),
		metric.WithUnit("{event}"),
	)

	// Event sink metrics
	m.EventSinkErrorsTotal, _ = meter.Int64Counter(
		"ding.eventsink.errors.total",
		metric.WithDescription("Total number of lifecycle events the sink failed to emit"),
		metric.WithUnit("{error}"),
	)

	return m
}
