// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bme680 drives a Bosch BME680 environmental sensor: temperature,
// pressure, humidity and gas resistance.
package bme680

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// mode is the operating mode.
type mode byte

const (
	sleep  mode = 0 // no operation, all registers accessible, lowest power, selected after startup
	forced mode = 1 // perform one measurement, store results and return to sleep mode
)

const (
	resetDelay   = 10 * time.Millisecond
	pollInterval = 5 * time.Millisecond
	// pollAttempts bounds how often new_data is polled once the expected
	// conversion time has elapsed.
	pollAttempts = 10
	// defaultAmbient is used for the first heater computation, in °C.
	defaultAmbient = 25
)

// ErrMeasurementTimeout is returned when new data never shows up.
var ErrMeasurementTimeout = errors.New("measurement did not complete")

// Status is the measurement status reported by the sensor.
type Status struct {
	NewData      bool
	GasMeasuring bool
	Measuring    bool
	// GasMeasIndex is the heater set point used by the conversion.
	GasMeasIndex uint8
	GasValid     bool
	HeaterStable bool
}

func decodeStatus(meas, gasLSB byte) Status {
	return Status{
		NewData:      meas&maskNewData != 0,
		GasMeasuring: meas&maskGasMeasure != 0,
		Measuring:    meas&maskMeasuring != 0,
		GasMeasIndex: meas & maskGasMeasIdx,
		GasValid:     gasLSB&maskGasValid != 0,
		HeaterStable: gasLSB&maskHeatStab != 0,
	}
}

// Measurement is the outcome of one forced mode conversion.
type Measurement struct {
	Reading
	// HeaterResistance is the res_heat_x value programmed for the
	// conversion, zero when gas is disabled.
	HeaterResistance uint8
	Status           Status
}

// NewI2C returns an object that communicates over I²C to a BME680
// environmental sensor.
//
// The address must be 0x76 or 0x77 depending on the SDO pin.
//
// It is recommended to call Halt() when done with the device so it stops
// sampling.
func NewI2C(b i2c.Bus, addr uint16, cfg *Config) (*Dev, error) {
	switch addr {
	case 0x76, 0x77:
	default:
		return nil, errors.New("bme680: given address not supported by device")
	}
	return New(&i2cTransport{d: &i2c.Dev{Bus: b, Addr: addr}}, cfg)
}

// NewSPI returns an object that communicates over SPI to a BME680
// environmental sensor.
//
// When using SPI, the CS line must be used.
func NewSPI(p spi.Port, cfg *Config) (*Dev, error) {
	// It works both in Mode0 and Mode3.
	c, err := p.Connect(10*physic.MegaHertz, spi.Mode3, 8)
	if err != nil {
		return nil, fmt.Errorf("bme680: %v", err)
	}
	return New(&spiTransport{c: c}, cfg)
}

// New initializes the sensor behind t: it checks the chip id, soft resets
// the sensor, loads its calibration and programs cfg. A nil cfg selects
// DefaultConfig.
func New(t Transport, cfg *Config) (*Dev, error) {
	if cfg == nil {
		c := DefaultConfig
		cfg = &c
	}
	d := &Dev{t: t, name: "BME680", ambient: defaultAmbient}
	if err := d.makeDev(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a handle to an initialized BME680 device.
type Dev struct {
	t       Transport
	is688   bool
	cfg     Config
	name    string
	cal     *Calibration
	ambient float64

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup

	failures atomic.Uint64
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s{%v}", d.name, d.t)
}

// Calibration returns the coefficients read from the sensor.
func (d *Dev) Calibration() Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal.Params
}

// Config returns the active configuration.
func (d *Dev) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetConfig validates and programs a new configuration.
func (d *Dev) SetConfig(cfg *Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errors.New("already sensing continuously"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Mode != d.cal.Mode() {
		cal, err := NewCalibration(d.cal.Params, cfg.Mode)
		if err != nil {
			return d.wrap(err)
		}
		d.cal = cal
	}
	d.cfg = *cfg
	if d.is688 {
		d.cfg.RunGas = false
	}
	return d.configure()
}

// Measure triggers one forced mode conversion and returns its compensated
// result, gas included when enabled.
func (d *Dev) Measure() (Measurement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return Measurement{}, d.wrap(errors.New("already sensing continuously"))
	}
	return d.measure()
}

// Sense requests a one time measurement, compensated in the configured mode.
//
// The very first measurements may be of poor quality.
func (d *Dev) Sense(e *physic.Env) error {
	m, err := d.Measure()
	if err != nil {
		return err
	}
	*e = m.Env
	return nil
}

// MeasureContinuous returns measurements on a continuous basis.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel.
//
// It's the responsibility of the caller to retrieve the values from the
// channel as fast as possible, otherwise the interval may not be respected.
//
// A failed measurement is logged and skipped, sensing goes on at the next
// tick. Failures counts them.
func (d *Dev) MeasureContinuous(interval time.Duration) (<-chan Measurement, error) {
	m, _, err := d.measureContinuous(interval)
	return m, err
}

// SenseContinuous implements physic.SenseEnv.
//
// The channel is closed by Halt even when the caller stopped reading.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	m, stop, err := d.measureContinuous(interval)
	if err != nil {
		return nil, err
	}
	sensing := make(chan physic.Env)
	go func() {
		defer close(sensing)
		for x := range m {
			select {
			case <-stop:
				return
			default:
			}
			select {
			case sensing <- x.Env:
			case <-stop:
				return
			}
		}
	}()
	return sensing, nil
}

// Failures returns how many continuous measurements failed.
func (d *Dev) Failures() uint64 {
	return d.failures.Load()
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cal.Mode() == FixedPoint {
		e.Temperature = 10 * physic.MilliKelvin
		e.Pressure = physic.Pascal
		e.Humidity = 10 * physic.MicroRH
		return
	}
	e.Temperature = physic.MilliKelvin
	e.Pressure = physic.MilliPascal
	e.Humidity = physic.TenthMicroRH
}

// Halt stops the BME680 from acquiring measurements as initiated by
// MeasureContinuous() and switches the heater off.
//
// It is recommended to call this function before terminating the process to
// reduce idle power usage and a goroutine leak.
func (d *Dev) Halt() error {
	d.stopSensing()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCommands([]byte{
		AddrCtrlGas0, bitHeatOff,
		AddrCtrlMeas, d.ctrlMeas(sleep),
	})
}

func (d *Dev) measureContinuous(interval time.Duration) (<-chan Measurement, <-chan struct{}, error) {
	if interval <= 0 {
		return nil, nil, d.wrap(fmt.Errorf("invalid interval %s", interval))
	}
	// Don't send the stop command to the device.
	d.stopSensing()

	d.mu.Lock()
	defer d.mu.Unlock()
	sensing := make(chan Measurement)
	stop := make(chan struct{})
	d.stop = stop
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(sensing)
		d.sensingContinuous(interval, sensing, stop)
	}()
	return sensing, stop, nil
}

// stopSensing ends continuous sensing, if any. It must be called without
// d.mu held since the sensing goroutine takes it.
func (d *Dev) stopSensing() {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop != nil {
		close(stop)
		d.wg.Wait()
	}
}

func (d *Dev) makeDev(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.cfg = *cfg

	id, err := d.t.ReadRegister(AddrChipID)
	if err != nil {
		return d.wrap(err)
	}
	if id != chipID {
		return fmt.Errorf("bme680: unexpected chip id %x", id)
	}
	// 0xF0 holds the variant ID, 0 for BME680 and 1 for BME688.
	variant, err := d.t.ReadRegister(AddrVariant)
	if err != nil {
		return d.wrap(err)
	}
	if variant == 1 {
		d.name = "BME688"
		d.is688 = true
	}
	if d.is688 && d.cfg.RunGas {
		// TODO: the BME688 reports gas at 0x2C/0x2D with its own range formula.
		log.Warnf("%s: gas measurement not supported, disabling it", d.name)
		d.cfg.RunGas = false
	}

	if err := d.t.WriteRegister(AddrReset, softResetCmd); err != nil {
		return d.wrap(err)
	}
	doSleep(resetDelay)

	d.cal, err = LoadCalibration(d.t, d.cfg.Mode)
	if err != nil {
		return d.wrap(err)
	}
	log.WithField("device", d.name).Debugf("calibration %+v", d.cal.Params)
	return d.configure()
}

// configure programs d.cfg. It must be called with d.mu lock held, or before
// d is shared.
func (d *Dev) configure() error {
	b := []byte{
		// ctrl_meas; put it to sleep otherwise the config update may be
		// ignored.
		AddrCtrlMeas, d.ctrlMeas(sleep),
		AddrCtrlHum, byte(d.cfg.Humidity),
		AddrConfig, byte(d.cfg.Filter) << 2,
	}
	for i, sp := range d.cfg.SetPoints {
		b = append(b, AddrGasWait0+byte(i), sp.register())
	}
	return d.writeCommands(b)
}

func (d *Dev) ctrlMeas(m mode) byte {
	return byte(d.cfg.Temperature)<<5 | byte(d.cfg.Pressure)<<2 | byte(m)
}

// measure runs one conversion.
//
// It must be called with d.mu lock held.
func (d *Dev) measure() (Measurement, error) {
	var m Measurement
	heat, err := d.setHeater()
	if err != nil {
		return m, err
	}
	m.HeaterResistance = heat

	err = d.writeCommands([]byte{
		AddrCtrlHum, byte(d.cfg.Humidity),
		// ctrl_meas must be written last, it starts the conversion.
		AddrCtrlMeas, d.ctrlMeas(forced),
	})
	if err != nil {
		return m, err
	}
	doSleep(d.cfg.measurementDuration())

	status, err := d.waitNewData()
	if err != nil {
		return m, err
	}
	raw, gasLSB, err := d.readSample()
	if err != nil {
		return m, err
	}
	m.Status = decodeStatus(status, gasLSB)

	r, err := d.cal.Compensate(raw)
	if err != nil {
		return m, d.wrap(err)
	}
	if d.cfg.Pressure == Off {
		r.Pressure = 0
	}
	if d.cfg.Humidity == Off {
		r.Humidity = 0
	}
	m.Reading = r
	if d.cfg.Temperature == Off {
		// The data registers hold the skip value, keep the last ambient.
		m.Temperature = 0
		return m, nil
	}
	d.ambient = r.Temperature.Celsius()
	return m, nil
}

// setHeater programs the selected set point for the current ambient
// temperature and returns the heater resistance written.
func (d *Dev) setHeater() (uint8, error) {
	if !d.cfg.RunGas {
		return 0, d.writeCommands([]byte{
			AddrCtrlGas0, bitHeatOff,
			AddrCtrlGas1, 0,
		})
	}
	h := d.cal.Heater()
	var res uint8
	if d.cal.Mode() == FixedPoint {
		res = h.ResistanceInt(int16(d.cfg.TargetTemp), int16(d.ambient))
	} else {
		res = h.Resistance(d.cfg.TargetTemp, d.ambient)
	}
	sp := d.cfg.SetPoint
	return res, d.writeCommands([]byte{
		AddrResHeat0 + sp, res,
		AddrGasWait0 + sp, d.cfg.SetPoints[sp].register(),
		AddrCtrlGas0, 0,
		AddrCtrlGas1, bitRunGas | sp,
	})
}

func (d *Dev) waitNewData() (byte, error) {
	for i := 0; i < pollAttempts; i++ {
		v, err := d.t.ReadRegister(AddrEasStatus0)
		if err != nil {
			return 0, d.wrap(err)
		}
		if v&maskNewData != 0 {
			return v, nil
		}
		doSleep(pollInterval)
	}
	return 0, d.wrap(ErrMeasurementTimeout)
}

// readSample reads the data registers one by one and returns the raw counts
// with the gas_r_lsb status byte.
func (d *Dev) readSample() (RawSample, byte, error) {
	var s RawSample
	// Pressure: 0x1F~0x21
	// Temperature: 0x22~0x24
	// Humidity: 0x25~0x26
	var buf [8]byte
	for i := range buf {
		v, err := d.t.ReadRegister(AddrPressMSB + byte(i))
		if err != nil {
			return s, 0, d.wrap(err)
		}
		buf[i] = v
	}
	msb, err := d.t.ReadRegister(AddrGasRMSB)
	if err != nil {
		return s, 0, d.wrap(err)
	}
	lsb, err := d.t.ReadRegister(AddrGasRLSB)
	if err != nil {
		return s, 0, d.wrap(err)
	}

	// These values are 20 bits as per doc.
	s.Pressure = uint32(buf[0])<<12 | uint32(buf[1])<<4 | uint32(buf[2])>>4
	s.Temperature = uint32(buf[3])<<12 | uint32(buf[4])<<4 | uint32(buf[5])>>4
	s.Humidity = uint16(buf[6])<<8 | uint16(buf[7])
	s.Gas = uint16(msb)<<2 | uint16(lsb)>>6
	s.GasRange = lsb & maskGasRange
	s.GasValid = d.cfg.RunGas && lsb&maskGasValid != 0 && lsb&maskHeatStab != 0
	return s, lsb, nil
}

func (d *Dev) sensingContinuous(interval time.Duration, sensing chan<- Measurement, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		// Do one initial sensing right away.
		d.mu.Lock()
		select {
		case <-stop:
			d.mu.Unlock()
			return
		default:
		}
		m, err := d.measure()
		d.mu.Unlock()
		if err != nil {
			d.failures.Add(1)
			log.Warnf("%s: failed to sense: %v", d, err)
		} else {
			select {
			case sensing <- m:
			case <-stop:
				return
			}
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// writeCommands writes register/value pairs in order.
func (d *Dev) writeCommands(b []byte) error {
	for i := 0; i+1 < len(b); i += 2 {
		if err := d.t.WriteRegister(b[i], b[i+1]); err != nil {
			return d.wrap(err)
		}
	}
	return nil
}

func (d *Dev) wrap(err error) error {
	return fmt.Errorf("%s: %w", strings.ToLower(d.name), err)
}

var doSleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
