// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme680

import (
	"errors"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
)

func noSleep(t *testing.T) {
	old := doSleep
	doSleep = func(time.Duration) {}
	t.Cleanup(func() { doSleep = old })
}

// newSensor returns a register file holding a BME680 that just finished a
// conversion at 26.14 °C, 998.52 hPa and 51.638 %RH.
func newSensor() *fakeTransport {
	f := newFakeTransport()
	encodeCalibration(f, testParams())
	f.regs[AddrChipID] = chipID
	f.regs[AddrEasStatus0] = maskNewData
	copy(f.regs[AddrPressMSB:], []byte{
		0x55, 0x73, 0x00, // pressure 350000
		0x7A, 0x12, 0x00, // temperature 500000
		0x55, 0xF0, // humidity 22000
	})
	f.regs[AddrGasRMSB] = 0x7D
	f.regs[AddrGasRLSB] = maskGasValid | maskHeatStab | 5 // adc 500
	return f
}

func testConfig(mode CompensationMode) *Config {
	c := DefaultConfig
	c.TargetTemp = 300
	c.Mode = mode
	return &c
}

func (f *fakeTransport) wrote(reg, value byte) int {
	for i, w := range f.writes {
		if w.reg == reg && w.value == value {
			return i
		}
	}
	return -1
}

func TestNew(t *testing.T) {
	noSleep(t)
	f := newSensor()
	d, err := New(f, testConfig(FixedPoint))
	if err != nil {
		t.Fatal(err)
	}
	if s := d.String(); !strings.HasPrefix(s, "BME680") {
		t.Errorf("String() = %q", s)
	}
	if d.Calibration() != testParams() {
		t.Errorf("calibration %+v", d.Calibration())
	}
	reset := f.wrote(AddrReset, softResetCmd)
	if reset != 0 {
		t.Errorf("soft reset is write #%d, want first", reset)
	}
	for _, w := range []regWrite{
		{AddrCtrlMeas, 0x8C},
		{AddrCtrlHum, byte(O2x)},
		{AddrConfig, byte(F3) << 2},
		{AddrGasWait0, 0x65},
		{AddrGasWait0 + 9, 0x00},
	} {
		if f.wrote(w.reg, w.value) < 0 {
			t.Errorf("0x%02X was not written to 0x%02X", w.value, w.reg)
		}
	}
}

func TestNewDefaultConfig(t *testing.T) {
	noSleep(t)
	d, err := New(newSensor(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Config() != DefaultConfig {
		t.Errorf("config %+v", d.Config())
	}
}

func TestNewFailures(t *testing.T) {
	noSleep(t)

	f := newSensor()
	f.regs[AddrChipID] = 0x60
	if _, err := New(f, nil); err == nil {
		t.Error("accepted a foreign chip id")
	}
	if len(f.writes) != 0 {
		t.Errorf("wrote %v to a foreign chip", f.writes)
	}

	f = newSensor()
	f.failReg = int(AddrParGH2MSB)
	_, err := New(f, nil)
	var terr *TransportError
	if !errors.As(err, &terr) || terr.Reg != AddrParGH2MSB {
		t.Errorf("expected TransportError, got %v", err)
	}

	bad := DefaultConfig
	bad.SetPoint = 12
	if _, err := New(newSensor(), &bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	if _, err := NewI2C(nil, 0x78, nil); err == nil {
		t.Error("accepted address 0x78")
	}
}

func TestMeasureFixedPoint(t *testing.T) {
	noSleep(t)
	f := newSensor()
	d, err := New(f, testConfig(FixedPoint))
	if err != nil {
		t.Fatal(err)
	}
	f.writes = nil
	m, err := d.Measure()
	if err != nil {
		t.Fatal(err)
	}

	if want := physic.ZeroCelsius + 26140*physic.MilliCelsius; m.Temperature != want {
		t.Errorf("temperature %s, want %s", m.Temperature, want)
	}
	if want := 99852 * physic.Pascal; m.Pressure != want {
		t.Errorf("pressure %s, want %s", m.Pressure, want)
	}
	if want := 516380 * physic.MicroRH; m.Humidity != want {
		t.Errorf("humidity %s, want %s", m.Humidity, want)
	}
	if m.GasResistance != 250537 {
		t.Errorf("gas %v Ω", m.GasResistance)
	}
	if m.HeaterResistance != 114 {
		t.Errorf("heater %d, want 114", m.HeaterResistance)
	}
	want := Status{NewData: true, GasValid: true, HeaterStable: true}
	if m.Status != want {
		t.Errorf("status %+v", m.Status)
	}

	heater := f.wrote(AddrResHeat0, 114)
	runGas := f.wrote(AddrCtrlGas1, bitRunGas)
	start := f.wrote(AddrCtrlMeas, 0x8D)
	if heater < 0 || runGas < heater || start < runGas {
		t.Errorf("writes out of order: %v", f.writes)
	}
	if start != len(f.writes)-1 {
		t.Errorf("conversion started before the last write: %v", f.writes)
	}
	if d.ambient != m.Temperature.Celsius() {
		t.Errorf("ambient %v not updated", d.ambient)
	}
}

func TestMeasureFloat(t *testing.T) {
	noSleep(t)
	d, err := New(newSensor(), testConfig(Float))
	if err != nil {
		t.Fatal(err)
	}
	m, err := d.Measure()
	if err != nil {
		t.Fatal(err)
	}
	if want := physic.ZeroCelsius + 26145*physic.MilliCelsius; m.Temperature != want {
		t.Errorf("temperature %s, want %s", m.Temperature, want)
	}
	if want := 99853863 * physic.MilliPascal; m.Pressure != want {
		t.Errorf("pressure %s, want %s", m.Pressure, want)
	}
	if m.HeaterResistance != 115 {
		t.Errorf("heater %d, want 115", m.HeaterResistance)
	}
	if !almostEqual(m.GasResistance, 250536.93, 0.01) {
		t.Errorf("gas %v Ω", m.GasResistance)
	}
}

func TestMeasureSkipsDisabled(t *testing.T) {
	noSleep(t)
	f := newSensor()
	cfg := testConfig(FixedPoint)
	cfg.RunGas = false
	cfg.Pressure = Off
	d, err := New(f, cfg)
	if err != nil {
		t.Fatal(err)
	}
	m, err := d.Measure()
	if err != nil {
		t.Fatal(err)
	}
	if m.Pressure != 0 || m.GasResistance != 0 || m.HeaterResistance != 0 {
		t.Errorf("disabled quantities reported: %+v", m)
	}
	if m.Humidity == 0 {
		t.Error("humidity missing")
	}
	if f.wrote(AddrCtrlGas0, bitHeatOff) < 0 {
		t.Error("heater not switched off")
	}
}

func TestMeasureTimeout(t *testing.T) {
	var sleeps int
	old := doSleep
	doSleep = func(time.Duration) { sleeps++ }
	defer func() { doSleep = old }()

	f := newSensor()
	f.regs[AddrEasStatus0] = 0
	d, err := New(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	sleeps = 0
	if _, err := d.Measure(); !errors.Is(err, ErrMeasurementTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if sleeps != pollAttempts+1 {
		t.Errorf("slept %d times", sleeps)
	}
}

func TestBME688DisablesGas(t *testing.T) {
	noSleep(t)
	f := newSensor()
	f.regs[AddrVariant] = 1
	d, err := New(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(d.String(), "BME688") {
		t.Errorf("String() = %q", d.String())
	}
	if d.Config().RunGas {
		t.Error("gas left enabled")
	}
	m, err := d.Measure()
	if err != nil {
		t.Fatal(err)
	}
	if m.GasResistance != 0 {
		t.Errorf("gas %v Ω", m.GasResistance)
	}
}

func TestSetConfig(t *testing.T) {
	noSleep(t)
	d, err := New(newSensor(), testConfig(FixedPoint))
	if err != nil {
		t.Fatal(err)
	}
	var e physic.Env
	d.Precision(&e)
	if e.Pressure != physic.Pascal {
		t.Errorf("fixed point precision %s", e.Pressure)
	}

	if err := d.SetConfig(testConfig(Float)); err != nil {
		t.Fatal(err)
	}
	d.Precision(&e)
	if e.Pressure != physic.MilliPascal {
		t.Errorf("float precision %s", e.Pressure)
	}
	if err := d.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if want := physic.ZeroCelsius + 26145*physic.MilliCelsius; e.Temperature != want {
		t.Errorf("temperature %s, want %s", e.Temperature, want)
	}

	bad := DefaultConfig
	bad.Filter = 9
	if err := d.SetConfig(&bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if d.Config().Mode != Float {
		t.Error("rejected config was applied")
	}
}

func TestMeasureContinuous(t *testing.T) {
	noSleep(t)
	f := newSensor()
	d, err := New(f, testConfig(FixedPoint))
	if err != nil {
		t.Fatal(err)
	}
	ch, err := d.MeasureContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		m, ok := <-ch
		if !ok {
			t.Fatal("channel closed early")
		}
		if m.Pressure != 99852*physic.Pascal {
			t.Errorf("pressure %s", m.Pressure)
		}
	}
	if _, err := d.Measure(); err == nil {
		t.Error("one shot measurement allowed while sensing continuously")
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	for range ch {
	}
	n := len(f.writes)
	if n < 2 || f.writes[n-2] != (regWrite{AddrCtrlGas0, bitHeatOff}) || f.writes[n-1] != (regWrite{AddrCtrlMeas, 0x8C}) {
		t.Errorf("Halt did not put the sensor to sleep: %v", f.writes[n-2:])
	}
	if err := d.Halt(); err != nil {
		t.Errorf("second Halt: %v", err)
	}
}

func TestSenseContinuous(t *testing.T) {
	noSleep(t)
	d, err := New(newSensor(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	e := <-ch
	if e.Humidity != 516380*physic.MicroRH {
		t.Errorf("humidity %s", e.Humidity)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	for range ch {
	}
}

func TestMeasureContinuousSurvivesTimeout(t *testing.T) {
	noSleep(t)
	f := newSensor()
	d, err := New(f, testConfig(FixedPoint))
	if err != nil {
		t.Fatal(err)
	}
	// The first conversion never reports new data.
	f.statusMisses = pollAttempts
	ch, err := d.MeasureContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatal("channel closed after one failed conversion")
		}
		if m.Pressure != 99852*physic.Pascal {
			t.Errorf("pressure %s", m.Pressure)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no measurement after the sensor recovered")
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	for range ch {
	}
	if n := d.Failures(); n != 1 {
		t.Errorf("%d failures, want 1", n)
	}
	if _, err := d.Measure(); err != nil {
		t.Errorf("one shot measurement after Halt: %v", err)
	}
}

func TestSenseContinuousClosesWithoutReader(t *testing.T) {
	noSleep(t)
	d, err := New(newSensor(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	<-ch
	// Leave a pending value unread.
	time.Sleep(10 * time.Millisecond)
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("value delivered after Halt")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed by Halt")
	}
}

func TestMeasureContinuousInterval(t *testing.T) {
	noSleep(t)
	d, err := New(newSensor(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.MeasureContinuous(0); err == nil {
		t.Error("zero interval accepted")
	}
	if _, err := d.Measure(); err != nil {
		t.Errorf("rejected interval left sensing on: %v", err)
	}
}

func TestMeasureGasOnly(t *testing.T) {
	noSleep(t)
	f := newSensor()
	cfg := testConfig(FixedPoint)
	cfg.Temperature, cfg.Pressure, cfg.Humidity = Off, Off, Off
	d, err := New(f, cfg)
	if err != nil {
		t.Fatal(err)
	}
	// Skipped conversions read 0x80000.
	copy(f.regs[AddrPressMSB:], []byte{0x80, 0x00, 0x00, 0x80, 0x00, 0x00, 0x80, 0x00})
	m, err := d.Measure()
	if err != nil {
		t.Fatal(err)
	}
	if m.Temperature != 0 || m.Pressure != 0 || m.Humidity != 0 {
		t.Errorf("skipped quantities reported: %+v", m.Env)
	}
	if m.GasResistance != 250537 {
		t.Errorf("gas %v Ω", m.GasResistance)
	}
	if d.ambient != defaultAmbient {
		t.Errorf("ambient moved to %v", d.ambient)
	}
}
