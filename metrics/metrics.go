// Package metrics implements the metrics publisher collaborator:
// AddDataPoint for gauges/counters such as S3AddressCount, and
// AddTransferStatus for per-part success/failure counting.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Publisher is the narrow collaborator every component reports through.
type Publisher interface {
	// AddDataPoint records an instantaneous value for a named metric, e.g.
	// S3AddressCount during DNS warm-up, or the bytes transferred "touch"
	// issued at part start.
	AddDataPoint(name, unit string, value float64)
	// AddTransferStatus records a single part or object transfer outcome.
	AddTransferStatus(success bool)
}

// OTelPublisher backs Publisher with OpenTelemetry instruments, the same
// library used for comparable storage byte-counter/gauge instruments
// elsewhere, in a synchronous (push) style: this engine's metrics points
// happen imperatively inside a polling loop and a per-part stream
// lifecycle rather than on a periodic collection tick.
type OTelPublisher struct {
	ctx context.Context

	dataPoints      metric.Float64Gauge
	transferSuccess metric.Int64Counter
	transferFailure metric.Int64Counter
}

// NewOTelPublisher builds a Publisher registered against meter.
func NewOTelPublisher(meter metric.Meter) (*OTelPublisher, error) {
	dataPoints, err := meter.Float64Gauge(
		"canary_data_point",
		metric.WithDescription("instantaneous named data point (e.g. S3AddressCount, bytes transferred)"),
	)
	if err != nil {
		return nil, err
	}

	transferSuccess, err := meter.Int64Counter(
		"canary_transfer_success_total",
		metric.WithDescription("count of successful part/object transfers"),
	)
	if err != nil {
		return nil, err
	}

	transferFailure, err := meter.Int64Counter(
		"canary_transfer_failure_total",
		metric.WithDescription("count of failed part/object transfers"),
	)
	if err != nil {
		return nil, err
	}

	return &OTelPublisher{
		ctx:             context.Background(),
		dataPoints:      dataPoints,
		transferSuccess: transferSuccess,
		transferFailure: transferFailure,
	}, nil
}

func (p *OTelPublisher) AddDataPoint(name, unit string, value float64) {
	p.dataPoints.Record(p.ctx, value,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("unit", unit),
		),
	)
}

func (p *OTelPublisher) AddTransferStatus(success bool) {
	if success {
		p.transferSuccess.Add(p.ctx, 1)
		return
	}
	p.transferFailure.Add(p.ctx, 1)
}
