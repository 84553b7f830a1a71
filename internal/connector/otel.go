package connector

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/opendrakan/statesync/internal/connector"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
