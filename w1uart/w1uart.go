// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1uart

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/GermanBionicSystems/owdevices/w1"
	"github.com/tarm/serial"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
)

const (
	resetBaud = 9600   // a 0xf0 character is a 520µs reset pulse
	dataBaud  = 115200 // a character is one 1-wire time slot

	resetPulse = 0xf0
	slotZero   = 0x00
	slotOne    = 0xff
)

// Port is a serial port. *serial.Port implements it.
type Port interface {
	io.ReadWriteCloser
	// Flush discards data received but not read.
	Flush() error
}

// Opts contains options to pass to the constructor.
type Opts struct {
	// ReadTimeout bounds the wait for the echo of a time slot.
	ReadTimeout time.Duration
	// Open opens the serial port with the given configuration. The port is
	// reopened on every baud rate change. Defaults to serial.OpenPort.
	Open func(c *serial.Config) (Port, error)
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	ReadTimeout: 100 * time.Millisecond,
}

// New returns a 1-wire bus master on the UART name, e.g. "/dev/ttyUSB0".
//
// TX and RX must both be wired to the 1-wire data line, TX through an open
// drain buffer.
func New(name string, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{
		cfg: serial.Config{
			Name:        name,
			ReadTimeout: opts.ReadTimeout,
			Size:        serial.DefaultSize,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
		},
		open: opts.Open,
	}
	if d.open == nil {
		d.open = openPort
	}
	if err := d.setBaud(dataBaud); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a 1-wire bus master driving the bus through a UART. It implements
// w1.Bus and w1.BitBus.
//
// Each 1-wire time slot is one character: the master pulls the line low for
// the start bit and the device pulling it low for longer shows up in the
// echo. Dev has no strong pull-up; parasitically powered devices need an
// external one.
//
// The primitives do not lock. Lock Dev for the duration of a whole
// reset/select/command cycle; the ds18b20 package does so.
type Dev struct {
	sync.Mutex
	cfg  serial.Config
	open func(c *serial.Config) (Port, error)
	port Port
}

func (d *Dev) String() string {
	return fmt.Sprintf("UART{%s}", d.cfg.Name)
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Close closes the serial port.
func (d *Dev) Close() error {
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// Reset issues a reset pulse and returns true if any device responded with a
// presence pulse.
func (d *Dev) Reset() (bool, error) {
	if err := d.setBaud(resetBaud); err != nil {
		return false, err
	}
	echo, err := d.exchange([]byte{resetPulse})
	if err != nil {
		return false, err
	}
	if err := d.setBaud(dataBaud); err != nil {
		return false, err
	}
	switch echo[0] {
	case resetPulse:
		return false, nil
	case 0:
		return false, shortedBusError("w1uart: bus has a short")
	default:
		return true, nil
	}
}

// WriteByte writes b, least significant bit first.
func (d *Dev) WriteByte(b byte) error {
	var slots [8]byte
	for i := range slots {
		slots[i] = slot(b>>uint(i)&1 == 1)
	}
	return d.write(slots[:])
}

// ReadByte reads one byte, least significant bit first.
func (d *Dev) ReadByte() (byte, error) {
	slots := [8]byte{slotOne, slotOne, slotOne, slotOne, slotOne, slotOne, slotOne, slotOne}
	echo, err := d.exchange(slots[:])
	if err != nil {
		return 0, err
	}
	var b byte
	for i, e := range echo {
		if e == slotOne {
			b |= 1 << uint(i)
		}
	}
	return b, nil
}

// ReadBit performs a single read time slot.
func (d *Dev) ReadBit() (bool, error) {
	echo, err := d.exchange([]byte{slotOne})
	if err != nil {
		return false, err
	}
	return echo[0] == slotOne, nil
}

// WriteBit performs a single write time slot.
func (d *Dev) WriteBit(bit bool) error {
	return d.write([]byte{slot(bit)})
}

// Search returns the addresses of all devices on the bus, or of the ones in
// alarm state if alarmOnly is true.
func (d *Dev) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.Search(&w1.Searcher{Bus: d}, alarmOnly)
}

// write sends the slots and checks that the line read back what was sent.
func (d *Dev) write(slots []byte) error {
	echo, err := d.exchange(slots)
	if err != nil {
		return err
	}
	for i := range slots {
		if echo[i] != slots[i] {
			return busError("w1uart: collision while writing")
		}
	}
	return nil
}

// exchange writes w and returns its echo.
func (d *Dev) exchange(w []byte) ([]byte, error) {
	if d.port == nil {
		return nil, errors.New("w1uart: port closed")
	}
	// Drop stale characters so the echo lines up with w.
	if err := d.port.Flush(); err != nil {
		return nil, err
	}
	if _, err := d.port.Write(w); err != nil {
		return nil, err
	}
	r := make([]byte, len(w))
	if _, err := io.ReadFull(d.port, r); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("w1uart: no echo from %s, is RX wired to the bus?", d.cfg.Name)
		}
		return nil, err
	}
	return r, nil
}

// setBaud reopens the port at baud unless it is already open at that rate.
func (d *Dev) setBaud(baud int) error {
	if d.port != nil && d.cfg.Baud == baud {
		return nil
	}
	if err := d.Close(); err != nil {
		return err
	}
	d.cfg.Baud = baud
	c := d.cfg
	p, err := d.open(&c)
	if err != nil {
		return fmt.Errorf("w1uart: error while opening %s at %d bauds: %w", d.cfg.Name, baud, err)
	}
	d.port = p
	return nil
}

func slot(bit bool) byte {
	if bit {
		return slotOne
	}
	return slotZero
}

func openPort(c *serial.Config) (Port, error) {
	return serial.OpenPort(c)
}

// shortedBusError implements error and onewire.ShortedBusError.
type shortedBusError string

func (e shortedBusError) Error() string   { return string(e) }
func (e shortedBusError) IsShorted() bool { return true }
func (e shortedBusError) BusError() bool  { return true }

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var _ conn.Resource = &Dev{}
var _ w1.BitBus = &Dev{}
var _ sync.Locker = &Dev{}
