package bme680

import (
	"fmt"
	"time"
)

// HeaterParams is the part of the calibration used to program the gas
// sensor's hot plate.
type HeaterParams struct {
	GH1          int8
	GH2          int16
	GH3          int8
	ResHeatRange uint8
	ResHeatVal   int8
}

// Heater returns the heater subset of p.
func (p *Params) Heater() HeaterParams {
	return HeaterParams{
		GH1:          p.GH1,
		GH2:          p.GH2,
		GH3:          p.GH3,
		ResHeatRange: p.ResHeatRange,
		ResHeatVal:   p.ResHeatVal,
	}
}

// Resistance returns the res_heat_x register value that brings the hot plate
// to target °C when the sensor sits at ambient °C. Targets above 400 °C are
// capped, the result saturates at the bounds of the register.
func (h HeaterParams) Resistance(target, ambient float64) uint8 {
	if target > maxHeaterTemp {
		target = maxHeaterTemp
	}
	var1 := (float64(h.GH1) / 16.0) + 49.0
	var2 := ((float64(h.GH2) / 32768.0) * 0.0005) + 0.00235
	var3 := float64(h.GH3) / 1024.0
	var4 := var1 * (1.0 + (var2 * target))
	var5 := var4 + (var3 * ambient)
	r := 3.4 * ((var5 * (4.0 / (4.0 + float64(h.ResHeatRange))) * (1.0 / (1.0 + (float64(h.ResHeatVal) * 0.002)))) - 25)
	switch {
	case r <= 0:
		return 0
	case r >= 255:
		return 255
	}
	return uint8(r)
}

// ResistanceInt is the integer variant of Resistance for fixed point builds.
func (h HeaterParams) ResistanceInt(target, ambient int16) uint8 {
	t := int32(target)
	if t > maxHeaterTemp {
		t = maxHeaterTemp
	}
	var1 := ((int32(ambient) * int32(h.GH3)) / 1000) * 256
	var2 := (int32(h.GH1) + 784) * (((((int32(h.GH2) + 154009) * t * 5) / 100) + 3276800) / 10)
	var3 := var1 + (var2 / 2)
	var4 := var3 / (int32(h.ResHeatRange) + 4)
	var5 := (131 * int32(h.ResHeatVal)) + 65536
	x100 := ((var4 / var5) - 250) * 34
	r := (x100 + 50) / 100
	switch {
	case r <= 0:
		return 0
	case r >= 255:
		return 255
	}
	return uint8(r)
}

// WaitMultiplier scales a heater set point's wait time.
type WaitMultiplier uint8

// Possible wait time multipliers.
const (
	X1  WaitMultiplier = 0
	X4  WaitMultiplier = 1
	X16 WaitMultiplier = 2
	X64 WaitMultiplier = 3
)

func (m WaitMultiplier) String() string {
	if m > X64 {
		return fmt.Sprintf("WaitMultiplier(%d)", m)
	}
	return fmt.Sprintf("x%d", m.factor())
}

func (m WaitMultiplier) factor() int {
	return 1 << (2 * m)
}

// SetPoint is one heater profile step: how long the hot plate is heated
// before the gas conversion starts.
type SetPoint struct {
	// Wait is in [0, 63] ms, before the multiplier.
	Wait       uint8
	Multiplier WaitMultiplier
}

// Duration returns the heating time.
func (s SetPoint) Duration() time.Duration {
	return time.Duration(int(s.Wait)*s.Multiplier.factor()) * time.Millisecond
}

// register returns the gas_wait_x encoding.
func (s SetPoint) register() byte {
	return byte(s.Multiplier)<<6 | s.Wait&0x3F
}

// SetPointFor returns the set point using the smallest multiplier that can
// express d. Durations of 4032 ms and more saturate at 63 x64.
func SetPointFor(d time.Duration) SetPoint {
	ms := d.Milliseconds()
	if ms >= 0xFC0 {
		return SetPoint{Wait: 0x3F, Multiplier: X64}
	}
	if ms < 0 {
		ms = 0
	}
	var m WaitMultiplier
	for ms > 0x3F {
		ms /= 4
		m++
	}
	return SetPoint{Wait: uint8(ms), Multiplier: m}
}
