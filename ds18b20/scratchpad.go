// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"strconv"
	"time"

	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// Resolution is the number of bits of a conversion, 9 to 12.
//
// The resolution affects the conversion time: 9bits:94ms, 10bits:188ms,
// 11bits:375ms, 12bits:750ms.
type Resolution uint8

// Supported resolutions.
const (
	Res9Bit  Resolution = 9
	Res10Bit Resolution = 10
	Res11Bit Resolution = 11
	Res12Bit Resolution = 12
)

func (r Resolution) String() string {
	return strconv.Itoa(int(r)) + "bits"
}

// ConversionTime returns how long a conversion takes at this resolution,
// datasheet p.6. Invalid resolutions return the 12 bits time.
func (r Resolution) ConversionTime() time.Duration {
	if !r.valid() {
		r = Res12Bit
	}
	return (94 << uint(r-Res9Bit)) * time.Millisecond
}

// Step returns the temperature difference between two consecutive readings,
// 0.5°C at 9 bits down to 0.0625°C at 12 bits. Invalid resolutions return 0.
func (r Resolution) Step() physic.Temperature {
	if !r.valid() {
		return 0
	}
	return physic.Kelvin / physic.Temperature(2<<uint(r-Res9Bit))
}

func (r Resolution) valid() bool {
	return r >= Res9Bit && r <= Res12Bit
}

// config returns the configuration register cfg with R1 and R0 set to r.
func (r Resolution) config(cfg byte) byte {
	return cfg&^0x60 | byte(r-Res9Bit)<<5
}

// Scratchpad is the device's register set as read in one transaction.
//
//	0: temperature LSB
//	1: temperature MSB
//	2: TH, high alarm threshold (int8)
//	3: TL, low alarm threshold (int8)
//	4: configuration, bits 5-6 are R0-R1
//	5-7: reserved
//	8: CRC-8 of bytes 0-7
type Scratchpad [9]byte

// Check validates the CRC of the scratchpad.
func (s *Scratchpad) Check() error {
	if onewire.CheckCRC(s[:]) {
		return nil
	}
	for _, c := range s {
		if c != 0xff {
			return ErrCRC
		}
	}
	return ErrNoResponse
}

// Raw returns the temperature register.
func (s *Scratchpad) Raw() uint16 {
	return uint16(s[0]) | uint16(s[1])<<8
}

// High returns the high alarm threshold in °C.
func (s *Scratchpad) High() int8 {
	return int8(s[2])
}

// Low returns the low alarm threshold in °C.
func (s *Scratchpad) Low() int8 {
	return int8(s[3])
}

// Resolution returns the resolution encoded in the configuration register.
func (s *Scratchpad) Resolution() Resolution {
	return Resolution((s[4]&0x60)>>5) + Res9Bit
}

// Temperature decodes the temperature register at the configured resolution.
func (s *Scratchpad) Temperature() (physic.Temperature, error) {
	return Decode(s.Raw(), s.Resolution())
}

// Decode converts a raw temperature register to a temperature.
//
// raw is a 16 bits two's complement value with 4 fractional bits, of which
// only the top r-8 are significant: bits below the resolution are ignored.
func Decode(raw uint16, r Resolution) (physic.Temperature, error) {
	neg := raw&0x8000 != 0
	if neg {
		raw = ^raw + 1
	}
	var frac physic.Temperature
	switch r {
	case Res9Bit:
		frac = physic.Temperature((raw>>3)&0x01) * (physic.Kelvin / 2)
	case Res10Bit:
		frac = physic.Temperature((raw>>2)&0x03) * (physic.Kelvin / 4)
	case Res11Bit:
		frac = physic.Temperature((raw>>1)&0x07) * (physic.Kelvin / 8)
	case Res12Bit:
		frac = physic.Temperature(raw&0x0f) * (physic.Kelvin / 16)
	default:
		return 0, ErrUnsupportedResolution
	}
	t := physic.Temperature((raw>>4)&0x7f)*physic.Kelvin + frac
	if neg {
		t = -t
	}
	return t + physic.ZeroCelsius, nil
}
