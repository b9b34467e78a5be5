package bme680

import (
	"errors"
	"fmt"
	"math"

	"periph.io/x/conn/v3/physic"
)

// CompensationMode selects which variant of the compensation formulas a
// Calibration computes with. The two variants keep t_fine in different
// representations and must never be mixed on one record.
type CompensationMode uint8

const (
	// FixedPoint uses the integer formulas: temperature in 0.01 °C, pressure
	// in Pa, humidity in 0.001 %RH, gas resistance in Ω. t_fine is an int32.
	FixedPoint CompensationMode = 0
	// Float uses the floating point formulas; t_fine is a float64.
	Float CompensationMode = 1
)

func (m CompensationMode) String() string {
	switch m {
	case FixedPoint:
		return "FixedPoint"
	case Float:
		return "Float"
	default:
		return fmt.Sprintf("CompensationMode(%d)", m)
	}
}

var (
	ErrDivisionByZero     = errors.New("division by zero")
	ErrStaleTemperature   = errors.New("temperature not compensated in this cycle")
	ErrModeMismatch       = errors.New("compensation mode mismatch")
	ErrInvalidCalibration = errors.New("calibration record was not validated")
)

// ComputationError reports a compensation that could not produce a value.
type ComputationError struct {
	Quantity string
	Err      error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("bme680: compensating %s: %v", e.Quantity, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

// RawSample is one set of ADC counts as read from the data registers.
type RawSample struct {
	Temperature uint32 // 20 bits
	Pressure    uint32 // 20 bits
	Humidity    uint16
	Gas         uint16 // 10 bits
	GasRange    uint8  // 4 bits
	// GasValid is set when the sample holds a gas conversion taken with a
	// stable heater.
	GasValid bool
}

// Reading is a compensated sample.
type Reading struct {
	physic.Env
	// GasResistance in Ω, zero when the sample held no valid gas conversion.
	GasResistance float64
}

// pressureOverflow is the smallest scaled pressure that would overflow int32
// when doubled.
const pressureOverflow int32 = 0x40000000

var (
	gasLookup1 = [16]uint32{
		2147483647, 2147483647, 2147483647, 2147483647, 2147483647, 2126008810, 2147483647, 2130303777,
		2147483647, 2147483647, 2143188679, 2136746228, 2147483647, 2126008810, 2147483647, 2147483647,
	}
	gasLookup2 = [16]uint32{
		4096000000, 2048000000, 1024000000, 512000000, 255744255, 127110228, 64000000, 32258064,
		16016016, 8000000, 4000000, 2000000, 1000000, 500000, 250000, 125000,
	}
	gasRangeK1 = [16]float64{0, 0, 0, 0, 0, -1, 0, -0.8, 0, 0, -0.2, -0.5, 0, -1, 0, 0}
	gasRangeK2 = [16]float64{0, 0, 0, 0, 0.1, 0.7, 0, -0.8, -0.1, 0, 0, 0, 0, 0, 0, 0}
)

// StartCycle marks the beginning of a measurement cycle. Humidity and
// pressure refuse to compensate until the temperature of the new cycle has
// been compensated.
func (c *Calibration) StartCycle() {
	c.tFineSet = false
}

func (c *Calibration) require(quantity string, mode CompensationMode, needTFine bool) error {
	switch {
	case !c.valid:
		return &ComputationError{Quantity: quantity, Err: ErrInvalidCalibration}
	case c.mode != mode:
		return &ComputationError{Quantity: quantity, Err: ErrModeMismatch}
	case needTFine && !c.tFineSet:
		return &ComputationError{Quantity: quantity, Err: ErrStaleTemperature}
	}
	return nil
}

// Compensate converts a raw sample, temperature first so that pressure and
// humidity use the fine temperature of the same sample.
func (c *Calibration) Compensate(s RawSample) (Reading, error) {
	c.StartCycle()
	var r Reading
	switch c.mode {
	case FixedPoint:
		t, err := c.TemperatureInt(s.Temperature)
		if err != nil {
			return r, err
		}
		// Convert CentiCelsius to Kelvin.
		r.Temperature = physic.Temperature(t)*10*physic.MilliCelsius + physic.ZeroCelsius
		p, err := c.PressureInt(s.Pressure)
		if err != nil {
			return r, err
		}
		r.Pressure = physic.Pressure(p) * physic.Pascal
		h, err := c.HumidityInt(s.Humidity)
		if err != nil {
			return r, err
		}
		// 0.001 %RH steps.
		r.Humidity = physic.RelativeHumidity(h) * 10 * physic.MicroRH
		if s.GasValid {
			g, err := c.GasResistanceInt(s.Gas, s.GasRange)
			if err != nil {
				return r, err
			}
			r.GasResistance = float64(g)
		}
	case Float:
		t, err := c.TemperatureFloat(s.Temperature)
		if err != nil {
			return r, err
		}
		r.Temperature = physic.Temperature(math.Round(t*1000))*physic.MilliCelsius + physic.ZeroCelsius
		p, err := c.PressureFloat(s.Pressure)
		if err != nil {
			return r, err
		}
		r.Pressure = physic.Pressure(math.Round(p*1000)) * physic.MilliPascal
		h, err := c.HumidityFloat(s.Humidity)
		if err != nil {
			return r, err
		}
		r.Humidity = physic.RelativeHumidity(math.Round(h * float64(physic.PercentRH)))
		if s.GasValid {
			g, err := c.GasResistanceFloat(s.Gas, s.GasRange)
			if err != nil {
				return r, err
			}
			r.GasResistance = g
		}
	default:
		return r, &ComputationError{Quantity: "sample", Err: ErrModeMismatch}
	}
	return r, nil
}

// TemperatureInt returns the temperature in 0.01 °C: 5123 equals 51.23 °C.
// It updates t_fine.
//
// raw has 20 bits of resolution.
func (c *Calibration) TemperatureInt(raw uint32) (int16, error) {
	if err := c.require("temperature", FixedPoint, false); err != nil {
		return 0, err
	}
	var1 := (int64(raw) >> 3) - (int64(c.T1) << 1)
	var2 := (var1 * int64(c.T2)) >> 11
	var3 := ((var1 >> 1) * (var1 >> 1)) >> 12
	var3 = (var3 * (int64(c.T3) << 4)) >> 14
	c.tFine = int32(var2 + var3)
	c.tFineSet = true
	return int16((c.tFine*5 + 128) >> 8), nil
}

// PressureInt returns the pressure in Pa.
//
// int32 arithmetic wraps in Go exactly like the vendor's reference code
// expects, the overflow branch is taken explicitly.
func (c *Calibration) PressureInt(raw uint32) (uint32, error) {
	if err := c.require("pressure", FixedPoint, true); err != nil {
		return 0, err
	}
	var1 := (c.tFine >> 1) - 64000
	var2 := ((((var1 >> 2) * (var1 >> 2)) >> 11) * int32(c.P6)) >> 2
	var2 = var2 + ((var1 * int32(c.P5)) << 1)
	var2 = (var2 >> 2) + (int32(c.P4) << 16)
	var1 = (((((var1 >> 2) * (var1 >> 2)) >> 13) * (int32(c.P3) << 5)) >> 3) + ((int32(c.P2) * var1) >> 1)
	var1 = var1 >> 18
	var1 = ((32768 + var1) * int32(c.P1)) >> 15
	if var1 == 0 {
		return 0, &ComputationError{Quantity: "pressure", Err: ErrDivisionByZero}
	}
	comp := int32(1048576) - int32(raw)
	comp = (comp - (var2 >> 12)) * 3125
	comp = scalePressure(comp, var1)
	var1 = (int32(c.P9) * (((comp >> 3) * (comp >> 3)) >> 13)) >> 12
	var2 = ((comp >> 2) * int32(c.P8)) >> 13
	var3 := ((comp >> 8) * (comp >> 8) * (comp >> 8) * int32(c.P10)) >> 17
	comp = comp + ((var1 + var2 + var3 + (int32(c.P7) << 7)) >> 4)
	return uint32(comp), nil
}

// scalePressure divides x by div and doubles it, dividing first when
// doubling first would overflow.
func scalePressure(x, div int32) int32 {
	if x >= pressureOverflow {
		return (x / div) << 1
	}
	return (x << 1) / div
}

// HumidityInt returns the relative humidity in 0.001 %RH, clamped to
// [0, 100000].
//
// raw has 16 bits of resolution.
func (c *Calibration) HumidityInt(raw uint16) (uint32, error) {
	if err := c.require("humidity", FixedPoint, true); err != nil {
		return 0, err
	}
	tempScaled := ((c.tFine * 5) + 128) >> 8
	var1 := (int32(raw) - int32(c.H1)*16) - (((tempScaled * int32(c.H3)) / 100) >> 1)
	var2 := (int32(c.H2) * (((tempScaled * int32(c.H4)) / 100) +
		(((tempScaled * ((tempScaled * int32(c.H5)) / 100)) >> 6) / 100) + (1 << 14))) >> 10
	var3 := var1 * var2
	var4 := int32(c.H6) << 7
	var4 = (var4 + ((tempScaled * int32(c.H7)) / 100)) >> 4
	var5 := ((var3 >> 14) * (var3 >> 14)) >> 10
	var6 := (var4 * var5) >> 1
	return uint32(humidityScale(var3 + var6)), nil
}

// humidityScale converts the humidity accumulator to 0.001 %RH and caps it
// at 100 %RH.
func humidityScale(sum int32) int32 {
	h := ((sum >> 10) * 1000) >> 12
	if h > 100000 {
		return 100000
	} else if h < 0 {
		return 0
	}
	return h
}

// GasResistanceInt returns the gas sensor resistance in Ω.
//
// adc has 10 bits of resolution, rng is the 4 bit gas range.
func (c *Calibration) GasResistanceInt(adc uint16, rng uint8) (uint32, error) {
	if err := c.require("gas resistance", FixedPoint, false); err != nil {
		return 0, err
	}
	rng &= maskGasRange
	var1 := ((1340 + 5*int64(c.RangeSwErr)) * int64(gasLookup1[rng])) >> 16
	var2 := (int64(adc) << 15) - 16777216 + var1
	if var2 == 0 {
		return 0, &ComputationError{Quantity: "gas resistance", Err: ErrDivisionByZero}
	}
	var3 := (int64(gasLookup2[rng]) * var1) >> 9
	return uint32((var3 + (var2 >> 1)) / var2), nil
}

// TemperatureFloat returns the temperature in °C and updates t_fine.
func (c *Calibration) TemperatureFloat(raw uint32) (float64, error) {
	if err := c.require("temperature", Float, false); err != nil {
		return 0, err
	}
	t := float64(raw)
	var1 := ((t / 16384.0) - (float64(c.T1) / 1024.0)) * float64(c.T2)
	d := (t / 131072.0) - (float64(c.T1) / 8192.0)
	var2 := (d * d) * (float64(c.T3) * 16.0)
	c.tFineFloat = var1 + var2
	c.tFineSet = true
	return c.tFineFloat / 5120.0, nil
}

// PressureFloat returns the pressure in Pa.
func (c *Calibration) PressureFloat(raw uint32) (float64, error) {
	if err := c.require("pressure", Float, true); err != nil {
		return 0, err
	}
	var1 := (c.tFineFloat / 2.0) - 64000.0
	var2 := var1 * var1 * (float64(c.P6) / 131072.0)
	var2 = var2 + (var1 * float64(c.P5) * 2.0)
	var2 = (var2 / 4.0) + (float64(c.P4) * 65536.0)
	var1 = (((float64(c.P3) * var1 * var1) / 16384.0) + (float64(c.P2) * var1)) / 524288.0
	var1 = (1.0 + (var1 / 32768.0)) * float64(c.P1)
	if var1 == 0 {
		return 0, &ComputationError{Quantity: "pressure", Err: ErrDivisionByZero}
	}

	p := 1048576.0 - float64(raw)
	p = ((p - (var2 / 4096.0)) * 6250.0) / var1
	var1 = (float64(c.P9) * p * p) / 2147483648.0
	var2 = p * (float64(c.P8) / 32768.0)
	var3 := (p / 256.0) * (p / 256.0) * (p / 256.0) * (float64(c.P10) / 131072.0)
	return p + (var1+var2+var3+(float64(c.P7)*128.0))/16.0, nil
}

// HumidityFloat returns the relative humidity in %RH, clamped to [0, 100].
func (c *Calibration) HumidityFloat(raw uint16) (float64, error) {
	if err := c.require("humidity", Float, true); err != nil {
		return 0, err
	}
	tempComp := c.tFineFloat / 5120.0
	var1 := float64(raw) - ((float64(c.H1) * 16.0) + ((float64(c.H3) / 2.0) * tempComp))
	var2 := var1 * ((float64(c.H2) / 262144.0) * (1.0 + ((float64(c.H4) / 16384.0) * tempComp) + ((float64(c.H5) / 1048576.0) * tempComp * tempComp)))
	var3 := float64(c.H6) / 16384.0
	var4 := float64(c.H7) / 2097152.0

	h := var2 + ((var3 + (var4 * tempComp)) * var2 * var2)
	if h > 100.0 {
		h = 100.0
	} else if h < 0.0 {
		h = 0.0
	}
	return h, nil
}

// GasResistanceFloat returns the gas sensor resistance in Ω.
func (c *Calibration) GasResistanceFloat(adc uint16, rng uint8) (float64, error) {
	if err := c.require("gas resistance", Float, false); err != nil {
		return 0, err
	}
	rng &= maskGasRange
	var1 := 1340.0 + 5.0*float64(c.RangeSwErr)
	var2 := var1 * (1.0 + gasRangeK1[rng]/100.0)
	var3 := 1.0 + gasRangeK2[rng]/100.0
	d := var3 * 0.000000125 * float64(uint32(1)<<rng) * (((float64(adc) - 512.0) / var2) + 1.0)
	if d == 0 {
		return 0, &ComputationError{Quantity: "gas resistance", Err: ErrDivisionByZero}
	}
	return 1.0 / d, nil
}
