// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package w1test is meant to be used to test drivers over a simulated 1-wire
// bus populated with DS18B20 temperature sensors.
package w1test

import (
	"sync"

	"github.com/GermanBionicSystems/owdevices/w1"
	"periph.io/x/conn/v3/onewire"
)

// Kind is the kind of a primitive performed on the bus.
type Kind int

// Primitives recorded by Sim.
const (
	Reset Kind = iota
	Write
	WritePower
	Read
	ReadBit
	WriteBit
)

func (k Kind) String() string {
	switch k {
	case Reset:
		return "Reset"
	case Write:
		return "Write"
	case WritePower:
		return "WritePower"
	case Read:
		return "Read"
	case ReadBit:
		return "ReadBit"
	case WriteBit:
		return "WriteBit"
	default:
		return "Unknown"
	}
}

// IO registers one primitive that happened on the simulated bus. B holds the
// byte written or read, or 0/1 for bit slots.
type IO struct {
	Kind Kind
	B    byte
}

// Device is a simulated DS18B20.
type Device struct {
	Addr       onewire.Address
	Scratchpad [9]byte // byte 8 is computed on read
	EEPROM     [3]byte // TH, TL, configuration
	Raw        uint16  // temperature register loaded by the next conversion
	Parasite   bool    // answers read power supply with a zero slot
	BadCRC     bool    // corrupts the CRC byte of scratchpad reads
}

// NewDevice returns a device in its power-on state: 85°C, TH=75, TL=70, 12
// bits resolution. raw is loaded by the first conversion.
func NewDevice(addr onewire.Address, raw uint16) *Device {
	return &Device{
		Addr:       addr,
		Scratchpad: [9]byte{0x50, 0x05, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10},
		EEPROM:     [3]byte{0x4b, 0x46, 0x7f},
		Raw:        raw,
	}
}

// Alarm reports whether the last converted temperature is at or outside the
// alarm thresholds. Only the integer part is compared, as the device does.
func (d *Device) Alarm() bool {
	t := int8(int16(uint16(d.Scratchpad[0])|uint16(d.Scratchpad[1])<<8) >> 4)
	return t >= int8(d.Scratchpad[2]) || t <= int8(d.Scratchpad[3])
}

// convert loads Raw into the temperature register, leaving undefined the bits
// below the configured resolution.
func (d *Device) convert() {
	unused := 3 - (d.Scratchpad[4]>>5)&3
	raw := d.Raw &^ (1<<unused - 1)
	d.Scratchpad[0] = byte(raw)
	d.Scratchpad[1] = byte(raw >> 8)
}

func (d *Device) read(i int) byte {
	if i < 8 {
		return d.Scratchpad[i]
	}
	if i > 8 {
		return 0xff
	}
	crc := w1.CRC8(d.Scratchpad[:8])
	if d.BadCRC {
		crc ^= 0xff
	}
	return crc
}

func (d *Device) write(i int, b byte) {
	if i == 2 {
		// Only R1 and R0 are writable in the configuration register.
		b = b&0x60 | 0x1f
	}
	d.Scratchpad[2+i] = b
}

// Address returns the address of a device with the given family code and
// serial number, with a valid CRC.
func Address(family byte, serial uint64) onewire.Address {
	var b [7]byte
	b[0] = family
	for i := 1; i < 7; i++ {
		b[i] = byte(serial >> (8 * uint(i-1)))
	}
	a := onewire.Address(w1.CRC8(b[:])) << 56
	for i, c := range b {
		a |= onewire.Address(c) << (8 * uint(i))
	}
	return a
}

type state int

const (
	stIdle state = iota
	stROM
	stMatch
	stFunc
	stReadPad
	stWritePad
	stReadPower
	stSearch
)

// Sim implements w1.Bus, w1.BitBus and w1.PowerWriter over a set of simulated
// DS18B20 devices and records every primitive into Ops.
//
// Sim implements sync.Locker but its primitives do not lock, like a real bus
// master.
type Sim struct {
	sync.Mutex
	Devices []*Device
	// Busy holds the line low on read slots, as a device converting does.
	Busy bool
	// ConversionSlots is the number of read slots that read busy after each
	// convert command.
	ConversionSlots int
	Ops             []IO

	state    state
	selected []*Device
	match    []byte
	idx      int
	pending  int

	candidates []*Device
	searchBit  uint
	phase      int
}

func (s *Sim) String() string {
	return "sim"
}

// Count returns the number of recorded primitives of kind k.
func (s *Sim) Count(k Kind) int {
	n := 0
	for _, op := range s.Ops {
		if op.Kind == k {
			n++
		}
	}
	return n
}

// Written returns the bytes written to the bus, in order.
func (s *Sim) Written() []byte {
	var w []byte
	for _, op := range s.Ops {
		if op.Kind == Write || op.Kind == WritePower {
			w = append(w, op.B)
		}
	}
	return w
}

// Reset implements w1.Bus.
func (s *Sim) Reset() (bool, error) {
	s.Ops = append(s.Ops, IO{Kind: Reset})
	s.state = stROM
	s.selected = nil
	s.match = s.match[:0]
	return len(s.Devices) != 0, nil
}

// WriteByte implements w1.Bus.
func (s *Sim) WriteByte(b byte) error {
	s.Ops = append(s.Ops, IO{Kind: Write, B: b})
	s.write(b)
	return nil
}

// WriteBytePower implements w1.PowerWriter.
func (s *Sim) WriteBytePower(b byte) error {
	s.Ops = append(s.Ops, IO{Kind: WritePower, B: b})
	s.write(b)
	return nil
}

// ReadByte implements w1.Bus.
func (s *Sim) ReadByte() (byte, error) {
	b := byte(0xff)
	if s.state == stReadPad {
		for _, d := range s.selected {
			b &= d.read(s.idx)
		}
		s.idx++
	}
	s.Ops = append(s.Ops, IO{Kind: Read, B: b})
	return b, nil
}

// ReadBit implements w1.Bus.
func (s *Sim) ReadBit() (bool, error) {
	v := true
	switch s.state {
	case stSearch:
		for _, d := range s.candidates {
			bit := d.Addr>>s.searchBit&1 == 1
			if s.phase == 1 {
				bit = !bit
			}
			v = v && bit
		}
		s.phase++
	case stReadPower:
		for _, d := range s.selected {
			if d.Parasite {
				v = false
			}
		}
	default:
		if s.Busy {
			v = false
		} else if s.pending > 0 {
			s.pending--
			v = false
		}
	}
	s.Ops = append(s.Ops, IO{Kind: ReadBit, B: bitByte(v)})
	return v, nil
}

// WriteBit implements w1.BitBus.
func (s *Sim) WriteBit(bit bool) error {
	s.Ops = append(s.Ops, IO{Kind: WriteBit, B: bitByte(bit)})
	if s.state == stSearch && s.phase == 2 {
		kept := s.candidates[:0]
		for _, d := range s.candidates {
			if (d.Addr>>s.searchBit&1 == 1) == bit {
				kept = append(kept, d)
			}
		}
		s.candidates = kept
		s.searchBit++
		s.phase = 0
	}
	return nil
}

// Search implements w1.Bus through w1.Searcher.
func (s *Sim) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.Search(&w1.Searcher{Bus: s}, alarmOnly)
}

func (s *Sim) write(b byte) {
	switch s.state {
	case stROM:
		switch b {
		case w1.CmdMatchROM:
			s.state = stMatch
		case w1.CmdSkipROM:
			s.selected = append([]*Device(nil), s.Devices...)
			s.state = stFunc
		case w1.CmdSearchROM, w1.CmdAlarmSearch:
			s.candidates = s.candidates[:0]
			for _, d := range s.Devices {
				if b == w1.CmdSearchROM || d.Alarm() {
					s.candidates = append(s.candidates, d)
				}
			}
			s.searchBit = 0
			s.phase = 0
			s.state = stSearch
		default:
			s.state = stIdle
		}
	case stMatch:
		s.match = append(s.match, b)
		if len(s.match) == 8 {
			var addr onewire.Address
			for i, c := range s.match {
				addr |= onewire.Address(c) << (8 * uint(i))
			}
			for _, d := range s.Devices {
				if d.Addr == addr {
					s.selected = append(s.selected, d)
				}
			}
			s.state = stFunc
		}
	case stFunc:
		s.idx = 0
		s.state = stIdle
		switch b {
		case 0x44: // convert T
			for _, d := range s.selected {
				d.convert()
			}
			s.pending = s.ConversionSlots
		case 0xbe: // read scratchpad
			s.state = stReadPad
		case 0x4e: // write scratchpad
			s.state = stWritePad
		case 0x48: // copy scratchpad
			for _, d := range s.selected {
				copy(d.EEPROM[:], d.Scratchpad[2:5])
			}
		case 0xb8: // recall E²
			for _, d := range s.selected {
				copy(d.Scratchpad[2:5], d.EEPROM[:])
			}
		case 0xb4: // read power supply
			s.state = stReadPower
		}
	case stWritePad:
		for _, d := range s.selected {
			d.write(s.idx, b)
		}
		if s.idx++; s.idx == 3 {
			s.state = stIdle
		}
	}
}

func bitByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

var _ w1.BitBus = &Sim{}
var _ w1.PowerWriter = &Sim{}
var _ sync.Locker = &Sim{}
