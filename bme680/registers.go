// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme680

// Identification and control registers.
const (
	AddrVariant byte = 0xF0 // read-only, only defined on BME688
	AddrChipID  byte = 0xD0 // read-only, should contain 0x61
	AddrReset   byte = 0xE0 // write 0xB6 to soft reset

	AddrStatus   byte = 0x73 // spi_mem_page on bit 4, SPI only
	AddrConfig   byte = 0x75
	AddrCtrlMeas byte = 0x74
	AddrCtrlHum  byte = 0x72
	AddrCtrlGas1 byte = 0x71
	AddrCtrlGas0 byte = 0x70

	// Heater set point n lives at base+n, n in [0, 9].
	AddrGasWait0  byte = 0x64
	AddrResHeat0  byte = 0x5A
	AddrIdacHeat0 byte = 0x50
)

// Data registers.
const (
	AddrGasRLSB    byte = 0x2B // mixed status/data
	AddrGasRMSB    byte = 0x2A
	AddrHumLSB     byte = 0x26
	AddrHumMSB     byte = 0x25
	AddrTempXLSB   byte = 0x24
	AddrTempLSB    byte = 0x23
	AddrTempMSB    byte = 0x22
	AddrPressXLSB  byte = 0x21
	AddrPressLSB   byte = 0x20
	AddrPressMSB   byte = 0x1F
	AddrEasStatus0 byte = 0x1D // status only
)

// Calibration bytes in the sensor's non-volatile memory. Multi-byte
// coefficients are little endian, LSB at the lower address.
const (
	AddrParT1LSB byte = 0xE9
	AddrParT1MSB byte = 0xEA
	AddrParT2LSB byte = 0x8A
	AddrParT2MSB byte = 0x8B
	AddrParT3    byte = 0x8C

	AddrParP1LSB  byte = 0x8E
	AddrParP1MSB  byte = 0x8F
	AddrParP2LSB  byte = 0x90
	AddrParP2MSB  byte = 0x91
	AddrParP3     byte = 0x92
	AddrParP4LSB  byte = 0x94
	AddrParP4MSB  byte = 0x95
	AddrParP5LSB  byte = 0x96
	AddrParP5MSB  byte = 0x97
	AddrParP7     byte = 0x98
	AddrParP6     byte = 0x99
	AddrParP8LSB  byte = 0x9C
	AddrParP8MSB  byte = 0x9D
	AddrParP9LSB  byte = 0x9E
	AddrParP9MSB  byte = 0x9F
	AddrParP10    byte = 0xA0

	// par_h1 and par_h2 are 12 bits wide and share 0xE2: par_h1 takes its
	// low nibble, par_h2 its high nibble.
	AddrParH2MSB   byte = 0xE1
	AddrParH1H2LSB byte = 0xE2
	AddrParH1MSB   byte = 0xE3
	AddrParH3      byte = 0xE4
	AddrParH4      byte = 0xE5
	AddrParH5      byte = 0xE6
	AddrParH6      byte = 0xE7
	AddrParH7      byte = 0xE8

	AddrParGH2LSB byte = 0xEB
	AddrParGH2MSB byte = 0xEC
	AddrParGH1    byte = 0xED
	AddrParGH3    byte = 0xEE

	AddrResHeatVal   byte = 0x00
	AddrResHeatRange byte = 0x02 // bits 5:4
	AddrRangeSwErr   byte = 0x04 // bits 7:4, signed
)

// Bit fields.
const (
	chipID       byte = 0x61
	softResetCmd byte = 0xB6

	maskH1LSB        byte = 0x0F
	maskResHeatRange byte = 0x30
	maskRangeSwErr   byte = 0xF0

	maskNewData    byte = 0x80
	maskGasMeasure byte = 0x40
	maskMeasuring  byte = 0x20
	maskGasMeasIdx byte = 0x0F
	maskGasValid   byte = 0x20
	maskHeatStab   byte = 0x10
	maskGasRange   byte = 0x0F
	bitRunGas      byte = 0x10
	bitHeatOff     byte = 0x08
	maskSPIMemPage byte = 0x10
	spiReadBit     byte = 0x80
	spiAddrMask    byte = 0x7F
)

// NumSetPoints is the number of heater set points the sensor holds.
const NumSetPoints = 10

// maxHeaterTemp caps the heater target, in °C.
const maxHeaterTemp = 400

// calibrationAddrs lists every distinct calibration byte, in read order.
var calibrationAddrs = [...]byte{
	AddrParT2LSB, AddrParT2MSB, AddrParT3,
	AddrParP1LSB, AddrParP1MSB, AddrParP2LSB, AddrParP2MSB, AddrParP3,
	AddrParP4LSB, AddrParP4MSB, AddrParP5LSB, AddrParP5MSB, AddrParP7, AddrParP6,
	AddrParP8LSB, AddrParP8MSB, AddrParP9LSB, AddrParP9MSB, AddrParP10,
	AddrParH2MSB, AddrParH1H2LSB, AddrParH1MSB,
	AddrParH3, AddrParH4, AddrParH5, AddrParH6, AddrParH7,
	AddrParT1LSB, AddrParT1MSB,
	AddrParGH2LSB, AddrParGH2MSB, AddrParGH1, AddrParGH3,
	AddrResHeatVal, AddrResHeatRange, AddrRangeSwErr,
}
