package main

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSensorMetrics(t *testing.T) {
	m := newSensorMetrics()
	r := SensorReading{Temperature: 21.5, Pressure: 1003.2, Humidity: 40, GasResistance: 120000, GasValid: true, CO2: 650}
	m.observe(r)
	r.GasValid = false
	r.GasResistance = 0
	m.observe(r)

	if n := testutil.ToFloat64(m.readings); n != 2 {
		t.Errorf("readings %v", n)
	}
	if v := testutil.ToFloat64(m.temperature); v != 21.5 {
		t.Errorf("temperature %v", v)
	}
	if v := testutil.ToFloat64(m.gasResistance); v != 120000 {
		t.Errorf("gas resistance %v, invalid conversions must not overwrite it", v)
	}
	if v := testutil.ToFloat64(m.co2); v != 650 {
		t.Errorf("co2 %v", v)
	}

	m.failed("scd4x")
	m.failed("scd4x")
	if v := testutil.ToFloat64(m.failures.WithLabelValues("scd4x")); v != 2 {
		t.Errorf("scd4x failures %v", v)
	}
	if n := testutil.CollectAndCount(m.failures); n != 1 {
		t.Errorf("%d failure series", n)
	}
}

func TestWatchFailures(t *testing.T) {
	m := newSensorMetrics()
	var n uint64 = 3
	m.watchFailures("bme680", func() uint64 { return n })
	want := `
# HELP airmonitor_measurement_failures_total Continuous measurements that failed and were skipped.
# TYPE airmonitor_measurement_failures_total counter
airmonitor_measurement_failures_total{sensor="bme680"} 3
`
	if err := testutil.GatherAndCompare(m.registry, strings.NewReader(want), "airmonitor_measurement_failures_total"); err != nil {
		t.Error(err)
	}
}
