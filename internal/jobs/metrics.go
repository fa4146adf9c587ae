package jobs

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// metricsObserver counts job transitions.
type metricsObserver struct {
	submitted metric.Int64Counter
	succeeded metric.Int64Counter
	failed    metric.Int64Counter
}

func newMetricsObserver(meter metric.Meter) (*metricsObserver, error) {
	var m metricsObserver
	var err error
	if m.submitted, err = meter.Int64Counter("radstore.jobs.submitted",
		metric.WithDescription("Jobs submitted"), metric.WithUnit("{job}")); err != nil {
		return nil, err
	}
	if m.succeeded, err = meter.Int64Counter("radstore.jobs.succeeded",
		metric.WithDescription("Jobs finished successfully"), metric.WithUnit("{job}")); err != nil {
		return nil, err
	}
	if m.failed, err = meter.Int64Counter("radstore.jobs.failed",
		metric.WithDescription("Jobs finished with a failure"), metric.WithUnit("{job}")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metricsObserver) OnJobSubmitted(string) { m.submitted.Add(context.Background(), 1) }
func (m *metricsObserver) OnJobSuccess(string)   { m.succeeded.Add(context.Background(), 1) }
func (m *metricsObserver) OnJobFailure(string)   { m.failed.Add(context.Background(), 1) }
