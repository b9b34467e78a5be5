package bme680

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Oversampling affects how much time is taken to measure each of temperature,
// pressure and humidity.
type Oversampling uint8

// Possible oversampling values.
//
// The higher the more time and power it takes to take a measurement. Off
// skips the quantity entirely.
const (
	Off  Oversampling = 0
	O1x  Oversampling = 1
	O2x  Oversampling = 2
	O4x  Oversampling = 3
	O8x  Oversampling = 4
	O16x Oversampling = 5
)

const oversamplingName = "Off1x2x4x8x16x"

var oversamplingIndex = [...]uint8{0, 3, 5, 7, 9, 11, 14}

func (o Oversampling) String() string {
	if o >= Oversampling(len(oversamplingIndex)-1) {
		return fmt.Sprintf("Oversampling(%d)", o)
	}
	return oversamplingName[oversamplingIndex[o]:oversamplingIndex[o+1]]
}

func (o Oversampling) asValue() int {
	switch o {
	case O1x:
		return 1
	case O2x:
		return 2
	case O4x:
		return 4
	case O8x:
		return 8
	case O16x:
		return 16
	default:
		return 0
	}
}

// Filter specifies the internal IIR filter coefficient applied to
// temperature and pressure.
type Filter uint8

// Possible filtering values.
//
// The higher the filter, the slower the value converges but the more stable
// the measurement is.
const (
	NoFilter Filter = 0
	F1       Filter = 1
	F3       Filter = 2
	F7       Filter = 3
	F15      Filter = 4
	F31      Filter = 5
	F63      Filter = 6
	F127     Filter = 7
)

func (f Filter) String() string {
	if f > F127 {
		return fmt.Sprintf("Filter(%d)", f)
	}
	return fmt.Sprintf("F%d", 1<<f-1)
}

// Config is the sensor configuration record.
//
// It is owned by the caller and persisted as an opaque blob, see
// MarshalBinary.
type Config struct {
	// Temperature must be measured for pressure and humidity to be measured.
	Temperature Oversampling
	Pressure    Oversampling
	Humidity    Oversampling
	Filter      Filter

	// RunGas enables the gas conversion using SetPoints[SetPoint].
	RunGas bool
	// TargetTemp is the hot plate temperature in °C, at most 400.
	TargetTemp float64
	SetPoints  [NumSetPoints]SetPoint
	SetPoint   uint8

	Mode CompensationMode
}

// DefaultConfig is the recommended default configuration: gas measured at
// 320 °C for 150 ms.
var DefaultConfig = Config{
	Temperature: O8x,
	Pressure:    O4x,
	Humidity:    O2x,
	Filter:      F3,
	RunGas:      true,
	TargetTemp:  320,
	SetPoints:   [NumSetPoints]SetPoint{SetPointFor(150 * time.Millisecond)},
	Mode:        FixedPoint,
}

// ErrInvalidConfig is wrapped by every configuration validation error.
var ErrInvalidConfig = errors.New("bme680: invalid configuration")

// Validate checks every field against the range the registers accept.
func (c *Config) Validate() error {
	switch {
	case c.Temperature > O16x:
		return fmt.Errorf("%w: temperature %s", ErrInvalidConfig, c.Temperature)
	case c.Pressure > O16x:
		return fmt.Errorf("%w: pressure %s", ErrInvalidConfig, c.Pressure)
	case c.Humidity > O16x:
		return fmt.Errorf("%w: humidity %s", ErrInvalidConfig, c.Humidity)
	case c.Temperature == Off && (c.Pressure != Off || c.Humidity != Off):
		// Pressure and humidity are compensated with t_fine.
		return fmt.Errorf("%w: pressure and humidity need the temperature", ErrInvalidConfig)
	case c.Filter > F127:
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Filter)
	case c.SetPoint >= NumSetPoints:
		return fmt.Errorf("%w: set point %d", ErrInvalidConfig, c.SetPoint)
	case c.Mode != FixedPoint && c.Mode != Float:
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Mode)
	case math.IsNaN(c.TargetTemp) || c.TargetTemp < 0 || c.TargetTemp > maxHeaterTemp:
		return fmt.Errorf("%w: heater target %g°C", ErrInvalidConfig, c.TargetTemp)
	}
	for i, sp := range c.SetPoints {
		if sp.Wait > 0x3F || sp.Multiplier > X64 {
			return fmt.Errorf("%w: set point %d is %d %s", ErrInvalidConfig, i, sp.Wait, sp.Multiplier)
		}
	}
	return nil
}

// measurementDuration returns how long a forced mode conversion takes,
// heater included.
func (c *Config) measurementDuration() time.Duration {
	cycles := c.Temperature.asValue() + c.Pressure.asValue() + c.Humidity.asValue()
	us := cycles*1963 + 477*4 + 477*5 + 500
	d := time.Duration(us/1000+1) * time.Millisecond
	if c.RunGas {
		d += c.SetPoints[c.SetPoint].Duration()
	}
	return d
}

// configFormat leads every blob so that erased or foreign memory is detected.
const configFormat byte = 0xA6

const configBlobSize = 12 + 2*NumSetPoints

// MarshalBinary implements encoding.BinaryMarshaler.
func (c Config) MarshalBinary() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	b := make([]byte, configBlobSize)
	b[0] = configFormat
	b[1] = byte(c.Temperature)
	b[2] = byte(c.Pressure)
	b[3] = byte(c.Humidity)
	b[4] = byte(c.Filter)
	if c.RunGas {
		b[5] = 1
	}
	b[6] = c.SetPoint
	b[7] = byte(c.Mode)
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(float32(c.TargetTemp)))
	for i, sp := range c.SetPoints {
		b[12+2*i] = sp.Wait
		b[13+2*i] = byte(sp.Multiplier)
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (c *Config) UnmarshalBinary(b []byte) error {
	if len(b) != configBlobSize {
		return fmt.Errorf("bme680: config blob is %d bytes, want %d", len(b), configBlobSize)
	}
	if b[0] != configFormat {
		return fmt.Errorf("bme680: unknown config format 0x%02X", b[0])
	}
	n := Config{
		Temperature: Oversampling(b[1]),
		Pressure:    Oversampling(b[2]),
		Humidity:    Oversampling(b[3]),
		Filter:      Filter(b[4]),
		RunGas:      b[5] != 0,
		SetPoint:    b[6],
		Mode:        CompensationMode(b[7]),
		TargetTemp:  float64(math.Float32frombits(binary.LittleEndian.Uint32(b[8:]))),
	}
	for i := range n.SetPoints {
		n.SetPoints[i] = SetPoint{Wait: b[12+2*i], Multiplier: WaitMultiplier(b[13+2*i])}
	}
	if err := n.Validate(); err != nil {
		return err
	}
	*c = n
	return nil
}
