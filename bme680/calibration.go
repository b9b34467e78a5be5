package bme680

import "fmt"

// Params holds the factory calibration coefficients at the width the sensor
// stores them. The compensation formulas depend on these widths, do not
// widen them before use.
type Params struct {
	T1 uint16
	T2 int16
	T3 int8

	P1  uint16
	P2  int16
	P3  int8
	P4  int16
	P5  int16
	P6  int8
	P7  int8
	P8  int16
	P9  int16
	P10 uint8

	H1, H2     uint16 // 12 bits each
	H3, H4, H5 int8
	H6         uint8
	H7         int8

	GH1          int8
	GH2          int16
	GH3          int8
	ResHeatRange uint8 // 2 bits
	ResHeatVal   int8

	RangeSwErr int8
}

// Calibration is the calibration record of one sensor.
//
// It also carries the fine temperature of the current measurement cycle,
// written by the temperature compensation and read by the humidity and
// pressure compensation. A Calibration must not be shared by concurrent
// measurement cycles.
type Calibration struct {
	Params

	mode  CompensationMode
	valid bool

	tFine      int32
	tFineFloat float64
	tFineSet   bool
}

// CalibrationError reports calibration data that failed a sanity check.
type CalibrationError struct {
	Field  string
	Reason string
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("bme680: invalid calibration %s: %s", e.Field, e.Reason)
}

// NewCalibration validates p and returns a record computing in mode.
func NewCalibration(p Params, mode CompensationMode) (*Calibration, error) {
	switch mode {
	case FixedPoint, Float:
	default:
		return nil, fmt.Errorf("bme680: unknown compensation mode %d", mode)
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	return &Calibration{Params: p, mode: mode, valid: true}, nil
}

// Mode returns the numeric mode the record was created for.
func (c *Calibration) Mode() CompensationMode {
	return c.mode
}

// LoadCalibration reads the calibration bytes one register at a time and
// decodes them. A failed transfer aborts the load and is returned as is.
func LoadCalibration(t Transport, mode CompensationMode) (*Calibration, error) {
	var img calibrationImage
	for _, reg := range calibrationAddrs {
		v, err := t.ReadRegister(reg)
		if err != nil {
			return nil, err
		}
		img[reg] = v
	}
	if img.blank() {
		return nil, &CalibrationError{Field: "nvm", Reason: "memory reads blank"}
	}
	return NewCalibration(decodeCalibration(&img), mode)
}

func (p *Params) check() error {
	switch {
	case p.P1 == 0:
		return &CalibrationError{Field: "par_p1", Reason: "zero divisor"}
	case p.T1 == 0 && p.T2 == 0:
		return &CalibrationError{Field: "par_t1", Reason: "temperature coefficients are zero"}
	case p.H1 > 0xFFF:
		return &CalibrationError{Field: "par_h1", Reason: "wider than 12 bits"}
	case p.H2 > 0xFFF:
		return &CalibrationError{Field: "par_h2", Reason: "wider than 12 bits"}
	case p.ResHeatRange > 3:
		return &CalibrationError{Field: "res_heat_range", Reason: "wider than 2 bits"}
	}
	return nil
}

// calibrationImage is indexed by register address.
type calibrationImage [256]byte

func (img *calibrationImage) blank() bool {
	zero, ones := true, true
	for _, reg := range calibrationAddrs {
		zero = zero && img[reg] == 0x00
		ones = ones && img[reg] == 0xFF
	}
	return zero || ones
}

func word(msb, lsb byte) uint16 {
	return uint16(msb)<<8 | uint16(lsb)
}

// decodeCalibration reassembles the coefficients. Pairs are concatenated
// unsigned and then reinterpreted at the coefficient's signedness.
func decodeCalibration(img *calibrationImage) (p Params) {
	p.T1 = word(img[AddrParT1MSB], img[AddrParT1LSB])
	p.T2 = int16(word(img[AddrParT2MSB], img[AddrParT2LSB]))
	p.T3 = int8(img[AddrParT3])

	p.P1 = word(img[AddrParP1MSB], img[AddrParP1LSB])
	p.P2 = int16(word(img[AddrParP2MSB], img[AddrParP2LSB]))
	p.P3 = int8(img[AddrParP3])
	p.P4 = int16(word(img[AddrParP4MSB], img[AddrParP4LSB]))
	p.P5 = int16(word(img[AddrParP5MSB], img[AddrParP5LSB]))
	p.P6 = int8(img[AddrParP6])
	p.P7 = int8(img[AddrParP7])
	p.P8 = int16(word(img[AddrParP8MSB], img[AddrParP8LSB]))
	p.P9 = int16(word(img[AddrParP9MSB], img[AddrParP9LSB]))
	p.P10 = img[AddrParP10]

	// Vendor packing: 0xE2 low nibble belongs to par_h1, high nibble to par_h2.
	p.H1 = uint16(img[AddrParH1MSB])<<4 | uint16(img[AddrParH1H2LSB]&maskH1LSB)
	p.H2 = uint16(img[AddrParH2MSB])<<4 | uint16(img[AddrParH1H2LSB]>>4)
	p.H3 = int8(img[AddrParH3])
	p.H4 = int8(img[AddrParH4])
	p.H5 = int8(img[AddrParH5])
	p.H6 = img[AddrParH6]
	p.H7 = int8(img[AddrParH7])

	p.GH1 = int8(img[AddrParGH1])
	p.GH2 = int16(word(img[AddrParGH2MSB], img[AddrParGH2LSB]))
	p.GH3 = int8(img[AddrParGH3])
	p.ResHeatRange = (img[AddrResHeatRange] & maskResHeatRange) >> 4
	p.ResHeatVal = int8(img[AddrResHeatVal])

	p.RangeSwErr = int8(img[AddrRangeSwErr]&maskRangeSwErr) / 16
	return p
}
