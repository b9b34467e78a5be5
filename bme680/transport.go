package bme680

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
)

// Transport moves single bytes to and from the sensor's registers.
//
// The driver assembles every multi-byte value from individual calls. When the
// bus is shared with other devices the implementation must serialize access,
// and it must honor the sensor's read timing before returning data.
type Transport interface {
	ReadRegister(reg byte) (byte, error)
	WriteRegister(reg, value byte) error
}

// TransportError reports a failed register transfer.
type TransportError struct {
	Op  string // "read" or "write"
	Reg byte
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s register 0x%02X: %v", e.Op, e.Reg, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// i2cTransport talks to the sensor through an I²C device.
type i2cTransport struct {
	d *i2c.Dev
}

func (t *i2cTransport) ReadRegister(reg byte) (byte, error) {
	var b [1]byte
	if err := t.d.Tx([]byte{reg}, b[:]); err != nil {
		return 0, &TransportError{Op: "read", Reg: reg, Err: err}
	}
	return b[0], nil
}

func (t *i2cTransport) WriteRegister(reg, value byte) error {
	if err := t.d.Tx([]byte{reg, value}, nil); err != nil {
		return &TransportError{Op: "write", Reg: reg, Err: err}
	}
	return nil
}

func (t *i2cTransport) String() string {
	return t.d.String()
}

// spiTransport talks to the sensor over SPI.
//
// In SPI mode only 7 address bits are sent, so the register space is split in
// two pages selected by spi_mem_page in the status register: page 0 maps
// 0x80-0xFF and page 1 maps 0x00-0x7F. The status register itself is reachable
// from both pages.
type spiTransport struct {
	c         conn.Conn
	page      byte
	pageKnown bool
}

func pageOf(reg byte) byte {
	if reg&spiReadBit != 0 {
		return 0
	}
	return 1
}

func (t *spiTransport) ReadRegister(reg byte) (byte, error) {
	if err := t.selectPage(reg); err != nil {
		return 0, err
	}
	return t.read(reg)
}

func (t *spiTransport) WriteRegister(reg, value byte) error {
	if err := t.selectPage(reg); err != nil {
		return err
	}
	return t.write(reg, value)
}

func (t *spiTransport) selectPage(reg byte) error {
	if reg == AddrStatus {
		return nil
	}
	p := pageOf(reg)
	if t.pageKnown && t.page == p {
		return nil
	}
	status, err := t.read(AddrStatus)
	if err != nil {
		return err
	}
	if err := t.write(AddrStatus, status&^maskSPIMemPage|p<<4); err != nil {
		return err
	}
	t.page = p
	t.pageKnown = true
	return nil
}

func (t *spiTransport) read(reg byte) (byte, error) {
	// MSB is 1 for read, the second byte clocks the data out.
	var r [2]byte
	if err := t.c.Tx([]byte{reg&spiAddrMask | spiReadBit, 0}, r[:]); err != nil {
		return 0, &TransportError{Op: "read", Reg: reg, Err: err}
	}
	return r[1], nil
}

func (t *spiTransport) write(reg, value byte) error {
	if err := t.c.Tx([]byte{reg & spiAddrMask, value}, nil); err != nil {
		return &TransportError{Op: "write", Reg: reg, Err: err}
	}
	return nil
}

func (t *spiTransport) String() string {
	return t.c.String()
}
