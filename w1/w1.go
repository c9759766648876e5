// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1

import (
	"errors"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/onewire"
)

// ROM commands understood by every device on a 1-wire bus.
const (
	CmdSearchROM   = 0xf0 // enumerate all devices
	CmdAlarmSearch = 0xec // enumerate devices in alarm state (conditional search)
	CmdMatchROM    = 0x55 // address one device by its ROM code
	CmdSkipROM     = 0xcc // address all devices
	CmdReadROM     = 0x33 // read the ROM code of the single device on the bus
)

// ErrSearchNoResponse is returned by search triplets when no device answered
// either bit. It happens on a conditional search when no device is in alarm
// state.
var ErrSearchNoResponse error = busError("w1: no device answered the search")

// Bus is a 1-wire bus master exposing the byte and bit level primitives
// device drivers use to conduct their protocol.
//
// A single reset/select/command/response cycle must be in flight at any time.
// Implementations that also implement sync.Locker are locked by drivers for
// the whole cycle; the primitives themselves do not lock.
type Bus interface {
	String() string
	// Reset issues a reset pulse and reports whether any device answered
	// with a presence pulse.
	Reset() (bool, error)
	// WriteByte writes one byte, least significant bit first.
	WriteByte(b byte) error
	// ReadByte reads one byte, least significant bit first.
	ReadByte() (byte, error)
	// ReadBit performs a single read time slot. A device holding the line low
	// reads as false.
	ReadBit() (bool, error)
	// Search returns the addresses of all devices on the bus, or only the
	// ones in alarm state if alarmOnly is true.
	//
	// If an error occurs during the search the already-discovered devices are
	// returned with the error.
	Search(alarmOnly bool) ([]onewire.Address, error)
}

// PowerWriter is implemented by buses able to enable a strong pull-up right
// after a byte is written, to power parasitic devices through a temperature
// conversion or an EEPROM write.
type PowerWriter interface {
	WriteBytePower(b byte) error
}

// BitBus is a Bus that can also write single bits. It is all that is needed to
// run the search algorithm, see Searcher.
type BitBus interface {
	Bus
	WriteBit(bit bool) error
}

// Select issues a match ROM command addressing the device at addr.
func Select(b Bus, addr onewire.Address) error {
	var w [9]byte
	w[0] = CmdMatchROM
	for i := 0; i < 8; i++ {
		w[i+1] = byte(addr >> (8 * uint(i)))
	}
	return Write(b, w[:])
}

// SelectAll issues a skip ROM command addressing every device on the bus.
func SelectAll(b Bus) error {
	return b.WriteByte(CmdSkipROM)
}

// Write writes all the bytes of p.
func Write(b Bus, p []byte) error {
	for _, c := range p {
		if err := b.WriteByte(c); err != nil {
			return err
		}
	}
	return nil
}

// WritePower writes c and leaves a strong pull-up on the bus if the bus
// supports it.
func WritePower(b Bus, c byte) error {
	if p, ok := b.(PowerWriter); ok {
		return p.WriteBytePower(c)
	}
	return b.WriteByte(c)
}

// Read fills p with bytes read from the bus.
func Read(b Bus, p []byte) error {
	for i := range p {
		c, err := b.ReadByte()
		if err != nil {
			return err
		}
		p[i] = c
	}
	return nil
}

// Tx resets the bus, writes w and then reads len(r) bytes into r.
//
// It returns an error implementing onewire.NoDevicesError if no device
// answered the reset.
func Tx(b Bus, w, r []byte) error {
	present, err := b.Reset()
	if err != nil {
		return err
	}
	if !present {
		return noDevicesError("w1: no device present")
	}
	if err := Write(b, w); err != nil {
		return err
	}
	return Read(b, r)
}

// Search runs a search cycle with the ROM command cmd, which must be either
// CmdSearchROM or CmdAlarmSearch.
//
// A search no device answered returns no address and no error.
func Search(b Bus, cmd byte) ([]onewire.Address, error) {
	var addrs []onewire.Address
	var err error
	switch cmd {
	case CmdSearchROM:
		addrs, err = b.Search(false)
	case CmdAlarmSearch:
		addrs, err = b.Search(true)
	default:
		return nil, errors.New("w1: unsupported search command 0x" + strconv.FormatUint(uint64(cmd), 16))
	}
	if len(addrs) == 0 && err == ErrSearchNoResponse {
		return nil, nil
	}
	return addrs, err
}

// CRC8 returns the Dallas/Maxim CRC-8 of buf.
func CRC8(buf []byte) byte {
	return onewire.CalcCRC(buf)
}

// Lock locks b if it implements sync.Locker and returns the matching unlock
// function.
func Lock(b Bus) func() {
	if l, ok := b.(sync.Locker); ok {
		l.Lock()
		return l.Unlock
	}
	return func() {}
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// noDevicesError implements error and onewire.NoDevicesError.
type noDevicesError string

func (e noDevicesError) Error() string   { return string(e) }
func (e noDevicesError) NoDevices() bool { return true }

var _ onewire.NoDevicesError = noDevicesError("")
var _ onewire.BusError = busError("")
