package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCountersGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(EnrollmentsSubmitted, EventsPurged)

	EnrollmentsSubmitted.WithLabelValues("attendee").Inc()
	EventsPurged.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			names[f.GetName()] += m.GetCounter().GetValue()
		}
	}
	if names["enrollments_submitted_total"] < 1 {
		t.Fatalf("enrollments_submitted_total = %v, want >= 1", names["enrollments_submitted_total"])
	}
	if names["events_purged_total"] < 1 {
		t.Fatalf("events_purged_total = %v, want >= 1", names["events_purged_total"])
	}
}
