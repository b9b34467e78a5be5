package main

import (
	"sync"
	"time"

	"AirMonitor/bme680"
	"github.com/dustin/go-humanize"
	"periph.io/x/conn/v3/physic"
)

const HectoPascal = 100 * physic.Pascal

type SensorReading struct {
	Temperature      float64 `json:"temperature"`
	Pressure         float64 `json:"pressure"`
	Humidity         float64 `json:"humidity"`
	GasResistance    float64 `json:"gasResistance"`
	GasValid         bool    `json:"gasValid"`
	HeaterResistance uint8   `json:"heaterResistance"`
	// CO2 and HumiditySCD come from the optional SCD4x
	CO2         uint16    `json:"co2,omitempty"`
	HumiditySCD float64   `json:"humidityScd,omitempty"`
	Updated     time.Time `json:"-"`
	UpdatedStr  string    `json:"updated"`
	UpdatedAgo  string    `json:"updatedAgo"`
}

func NewSensorReading(date time.Time) SensorReading {
	return SensorReading{
		Updated:    date,
		UpdatedStr: date.Format("2006-01-02 15:04:05"), // ISO 8601 without timezone
	}
}

func readingFromMeasurement(m bme680.Measurement, date time.Time) SensorReading {
	reading := NewSensorReading(date)
	reading.Temperature = m.Temperature.Celsius()
	reading.Pressure = float64(m.Pressure) / float64(HectoPascal)
	reading.Humidity = float64(m.Humidity) / float64(physic.PercentRH)
	reading.GasResistance = m.GasResistance
	reading.GasValid = m.Status.GasValid && m.Status.HeaterStable
	reading.HeaterResistance = m.HeaterResistance
	return reading
}

// withAge fills UpdatedAgo relative to now.
func (r SensorReading) withAge(now time.Time) SensorReading {
	if !r.Updated.IsZero() {
		r.UpdatedAgo = humanize.RelTime(r.Updated, now, "ago", "from now")
	}
	return r
}

// readingStore holds the latest reading for the HTTP handlers.
type readingStore struct {
	mu      sync.RWMutex
	reading SensorReading
}

func (s *readingStore) set(r SensorReading) {
	s.mu.Lock()
	s.reading = r
	s.mu.Unlock()
}

func (s *readingStore) get() SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reading
}
