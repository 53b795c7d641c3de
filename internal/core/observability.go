package core

import (
	"context"
	"log/slog"
	"time"
)

// UseCaseEvent captures the outcome of one service operation.
type UseCaseEvent struct {
	Name      string
	Duration  time.Duration
	Success   bool
	Err       error
	Fields    map[string]any
	StartedAt time.Time
}

// Observer receives service use-case events.
type Observer interface {
	ObserveUseCase(ctx context.Context, event UseCaseEvent)
}

// MetricsRecorder aggregates operation outcomes and latencies.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// NoopObserver ignores all events.
type NoopObserver struct{}

// ObserveUseCase implements Observer.
func (NoopObserver) ObserveUseCase(context.Context, UseCaseEvent) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type logObserver struct {
	logger *slog.Logger
}

// NewLogObserver writes one structured record per use case to logger.
// Failed use cases are logged at error level.
func NewLogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		return NoopObserver{}
	}
	return &logObserver{logger: logger}
}

func (o *logObserver) ObserveUseCase(ctx context.Context, event UseCaseEvent) {
	attrs := make([]any, 0, 6+len(event.Fields)*2)
	attrs = append(attrs,
		"use_case", event.Name,
		"duration_ms", event.Duration.Milliseconds(),
		"success", event.Success,
	)
	for k, v := range event.Fields {
		attrs = append(attrs, k, v)
	}
	if event.Err != nil {
		attrs = append(attrs, "error", event.Err.Error())
		o.logger.ErrorContext(ctx, "service_use_case", attrs...)
		return
	}
	o.logger.InfoContext(ctx, "service_use_case", attrs...)
}

// track reports a finished use case to the observer and the metrics recorder.
// Pass it the address of the named error result from a deferred call.
func (s *Service) track(ctx context.Context, name string, started time.Time, errp *error, kv ...any) {
	var err error
	if errp != nil {
		err = *errp
	}
	elapsed := time.Since(started)
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			fields[key] = kv[i+1]
		}
	}
	s.observer.ObserveUseCase(ctx, UseCaseEvent{
		Name:      name,
		Duration:  elapsed,
		Success:   err == nil,
		Err:       err,
		Fields:    fields,
		StartedAt: started,
	})
	s.metrics.Observe(ctx, name, err == nil, elapsed)
}
