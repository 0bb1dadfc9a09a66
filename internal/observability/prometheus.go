package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewPrometheusMeter wires an OTel MeterProvider to a dedicated Prometheus
// registry and returns the meter for instrument creation together with the
// /metrics scrape handler. Each call builds an independent registry so
// repeated construction never collides on collector registration.
func NewPrometheusMeter() (metric.Meter, http.Handler, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	return provider.Meter("pacsflow"), promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
