package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MetricsConfig конфигурация провайдера метрик. Reader задаётся вызывающей
// стороной (Prometheus/OTLP экспортер, manual reader в тестах): пакет не
// фиксирует конкретный экспортер за всех.
type MetricsConfig struct {
	Reader        sdkmetric.Reader
	ResourceAttrs map[string]string
}

// SetupMetrics builds and installs a global MeterProvider wired to
// config.Reader. If config is nil or its Reader is nil, a ManualReader is
// used — enough for NewMetrics() to register instruments against, with no
// background export (tests call reader.Collect themselves; production
// callers pass a real Reader).
func SetupMetrics(config *MetricsConfig) (*sdkmetric.MeterProvider, error) {
	if config == nil {
		config = &MetricsConfig{}
	}
	reader := config.Reader
	if reader == nil {
		reader = sdkmetric.NewManualReader()
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(buildResourceAttributes(config.ResourceAttrs)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(provider)

	return provider, nil
}

// buildResourceAttributes строит resource attributes
func buildResourceAttributes(attrs map[string]string) []attribute.KeyValue {
	result := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, attribute.String(k, v))
	}
	return result
}

// ShutdownMetrics корректно завершает работу метрик
func ShutdownMetrics(ctx context.Context, provider *sdkmetric.MeterProvider) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}
