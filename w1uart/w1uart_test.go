// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1uart

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/GermanBionicSystems/owdevices/ds18b20"
	"github.com/GermanBionicSystems/owdevices/w1"
	"github.com/tarm/serial"
	"periph.io/x/conn/v3/onewire"
)

// line simulates the 1-wire data line seen through the UART echo.
type line struct {
	bauds    []int
	presence byte   // echo of the reset pulse
	low      []bool // queued device answers to the next data slots
	written  []byte // slots written at data rate
	open     bool
	openErr  error
	noEcho   bool
}

func (l *line) Open(c *serial.Config) (Port, error) {
	if l.openErr != nil {
		return nil, l.openErr
	}
	if l.open {
		return nil, errors.New("port already open")
	}
	l.open = true
	l.bauds = append(l.bauds, c.Baud)
	return &port{l: l, baud: c.Baud}, nil
}

type port struct {
	l       *line
	baud    int
	pending []byte
}

func (p *port) Write(b []byte) (int, error) {
	if p.l.noEcho {
		return len(b), nil
	}
	for _, c := range b {
		if p.baud == resetBaud {
			e := c
			if c == resetPulse {
				e = p.l.presence
			}
			p.pending = append(p.pending, e)
			continue
		}
		p.l.written = append(p.l.written, c)
		if len(p.l.low) != 0 {
			low := p.l.low[0]
			p.l.low = p.l.low[1:]
			if low {
				c &= 0xfc
			}
		}
		p.pending = append(p.pending, c)
	}
	return len(b), nil
}

func (p *port) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		return 0, io.EOF
	}
	// Deliver one character at a time, as a slow UART would.
	n := copy(b[:1], p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *port) Flush() error {
	p.pending = nil
	return nil
}

func (p *port) Close() error {
	p.l.open = false
	return nil
}

// lowBits returns the device answers for the bits of b, LSB first.
func lowBits(p ...byte) []bool {
	var out []bool
	for _, b := range p {
		for i := 0; i < 8; i++ {
			out = append(out, b>>uint(i)&1 == 0)
		}
	}
	return out
}

// slots returns the time slots writing p.
func slots(p ...byte) []byte {
	var out []byte
	for _, b := range p {
		for i := 0; i < 8; i++ {
			out = append(out, slot(b>>uint(i)&1 == 1))
		}
	}
	return out
}

func newDev(t *testing.T, l *line) *Dev {
	d, err := New("/dev/ttyUSB0", &Opts{Open: l.Open})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestNew(t *testing.T) {
	l := &line{}
	d := newDev(t, l)
	if s := d.String(); s != "UART{/dev/ttyUSB0}" {
		t.Fatal(s)
	}
	if !reflect.DeepEqual(l.bauds, []int{dataBaud}) {
		t.Fatalf("unexpected bauds %v", l.bauds)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if l.open {
		t.Fatal("expected the port closed")
	}
	if _, err := d.ReadBit(); err == nil {
		t.Fatal("expected an error on a closed port")
	}
}

func TestNew_fail(t *testing.T) {
	l := &line{openErr: errors.New("no such device")}
	if _, err := New("/dev/ttyUSB9", &Opts{Open: l.Open}); err == nil {
		t.Fatal("expected error")
	}
}

func TestReset(t *testing.T) {
	data := []struct {
		echo    byte
		present bool
		shorted bool
	}{
		{0xe0, true, false},
		{0x10, true, false},
		{resetPulse, false, false},
		{0x00, false, true},
	}
	for _, tc := range data {
		l := &line{presence: tc.echo}
		d := newDev(t, l)
		present, err := d.Reset()
		if present != tc.present {
			t.Fatalf("echo %#x: expected presence %t", tc.echo, tc.present)
		}
		var se onewire.ShortedBusError
		if shorted := errors.As(err, &se); shorted != tc.shorted {
			t.Fatalf("echo %#x: unexpected error %v", tc.echo, err)
		}
		if !reflect.DeepEqual(l.bauds, []int{dataBaud, resetBaud, dataBaud}) {
			t.Fatalf("unexpected bauds %v", l.bauds)
		}
	}
}

func TestReset_noEcho(t *testing.T) {
	l := &line{noEcho: true}
	d := newDev(t, l)
	if _, err := d.Reset(); err == nil {
		t.Fatal("expected error")
	}
}

func TestWriteByte(t *testing.T) {
	l := &line{}
	d := newDev(t, l)
	if err := d.WriteByte(0x55); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteBit(true); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(l.written, append(slots(0x55), slotOne)) {
		t.Fatalf("unexpected slots %#v", l.written)
	}
	// A device holding the line low during a one slot.
	l.low = []bool{true}
	err := d.WriteByte(0xff)
	var be onewire.BusError
	if !errors.As(err, &be) {
		t.Fatalf("expected a collision, got %v", err)
	}
}

func TestRead(t *testing.T) {
	l := &line{low: append(lowBits(0xa5), true, false)}
	d := newDev(t, l)
	if b, err := d.ReadByte(); err != nil || b != 0xa5 {
		t.Fatalf("expected 0xa5, got %#x, %v", b, err)
	}
	if v, err := d.ReadBit(); err != nil || v {
		t.Fatalf("expected a zero, got %t, %v", v, err)
	}
	if v, err := d.ReadBit(); err != nil || !v {
		t.Fatalf("expected a one, got %t, %v", v, err)
	}
}

func TestSearch(t *testing.T) {
	var addr onewire.Address = 0x740000070e41ac28
	// The search command does not drive the line. Each triplet is the bit,
	// its complement and the direction written.
	low := make([]bool, 8)
	for i := 0; i < 64; i++ {
		bit := addr>>uint(i)&1 == 1
		low = append(low, !bit, bit, false)
	}
	l := &line{presence: 0xe0, low: low}
	d := newDev(t, l)
	addrs, err := w1.Search(d, w1.CmdSearchROM)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != addr {
		t.Fatalf("unexpected search result %#x", addrs)
	}
	if !bytes.Equal(l.written[:8], slots(w1.CmdSearchROM)) {
		t.Fatalf("unexpected search command %#v", l.written[:8])
	}
}

func TestReadTemperature(t *testing.T) {
	var addr onewire.Address = 0x740000070e41ac28
	pad := []byte{0x91, 0x01, 0x4b, 0x46, 0x7f, 0xff, 0x0f, 0x10}
	pad = append(pad, w1.CRC8(pad))
	// Idle poll, then the 10 command bytes do not drive the line, then the
	// scratchpad.
	low := []bool{false}
	low = append(low, make([]bool, 80)...)
	low = append(low, lowBits(pad...)...)
	l := &line{presence: 0xe0, low: low}
	d := newDev(t, l)
	c, err := ds18b20.ReadTemperature(d, addr)
	if err != nil {
		t.Fatal(err)
	}
	if c.Celsius() != 25.0625 {
		t.Fatalf("unexpected temperature %s", c)
	}
	expected := append([]byte{slotOne}, slots(0x55, 0x28, 0xac, 0x41, 0x0e, 0x07, 0x00, 0x00, 0x74, 0xbe)...)
	if !bytes.Equal(l.written[:len(expected)], expected) {
		t.Fatalf("unexpected slots %#v", l.written)
	}
}
