package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type sensorMetrics struct {
	registry *prometheus.Registry

	temperature   prometheus.Gauge
	pressure      prometheus.Gauge
	humidity      prometheus.Gauge
	gasResistance prometheus.Gauge
	heater        prometheus.Gauge
	co2           prometheus.Gauge
	readings      prometheus.Counter
	failures      *prometheus.CounterVec
}

func newSensorMetrics() *sensorMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "airmonitor", Name: name, Help: help})
	}
	m := &sensorMetrics{
		registry:      prometheus.NewRegistry(),
		temperature:   gauge("temperature_celsius", "Compensated BME680 temperature."),
		pressure:      gauge("pressure_hectopascals", "Compensated BME680 pressure."),
		humidity:      gauge("humidity_percent", "Compensated BME680 relative humidity."),
		gasResistance: gauge("gas_resistance_ohms", "BME680 gas sensor resistance, last valid conversion."),
		heater:        gauge("heater_resistance_register", "Value programmed into res_heat_x."),
		co2:           gauge("co2_ppm", "SCD4x CO2 concentration."),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airmonitor", Name: "readings_total", Help: "Readings taken.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airmonitor", Name: "sensor_errors_total", Help: "Failed sensor reads.",
		}, []string{"sensor"}),
	}
	m.registry.MustRegister(m.temperature, m.pressure, m.humidity, m.gasResistance, m.heater, m.co2, m.readings, m.failures)
	return m
}

func (m *sensorMetrics) observe(r SensorReading) {
	m.readings.Inc()
	m.temperature.Set(r.Temperature)
	m.pressure.Set(r.Pressure)
	m.humidity.Set(r.Humidity)
	m.heater.Set(float64(r.HeaterResistance))
	if r.GasValid {
		m.gasResistance.Set(r.GasResistance)
	}
	if r.CO2 != 0 {
		m.co2.Set(float64(r.CO2))
	}
}

func (m *sensorMetrics) failed(sensor string) {
	m.failures.WithLabelValues(sensor).Inc()
}

// watchFailures exports a failure count kept by the sensor driver.
func (m *sensorMetrics) watchFailures(sensor string, count func() uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "airmonitor",
		Name:        "measurement_failures_total",
		Help:        "Continuous measurements that failed and were skipped.",
		ConstLabels: prometheus.Labels{"sensor": sensor},
	}, func() float64 {
		return float64(count())
	}))
}

func (m *sensorMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
