// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1_test

import (
	"bytes"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/GermanBionicSystems/owdevices/w1"
	"github.com/GermanBionicSystems/owdevices/w1/w1test"
	"periph.io/x/conn/v3/onewire"
)

func TestSelect(t *testing.T) {
	sim := &w1test.Sim{}
	if err := w1.Select(sim, 0x740000070e41ac28); err != nil {
		t.Fatal(err)
	}
	expected := []byte{0x55, 0x28, 0xac, 0x41, 0x0e, 0x07, 0x00, 0x00, 0x74}
	if w := sim.Written(); !bytes.Equal(w, expected) {
		t.Fatalf("unexpected match ROM sequence %#v", w)
	}
	sim.Ops = nil
	if err := w1.SelectAll(sim); err != nil {
		t.Fatal(err)
	}
	if w := sim.Written(); !bytes.Equal(w, []byte{w1.CmdSkipROM}) {
		t.Fatalf("unexpected skip ROM sequence %#v", w)
	}
}

func TestWritePower(t *testing.T) {
	sim := &w1test.Sim{}
	if err := w1.WritePower(sim, 0x44); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sim.Ops, []w1test.IO{{Kind: w1test.WritePower, B: 0x44}}) {
		t.Fatalf("unexpected ops %v", sim.Ops)
	}
	// Buses without a strong pull-up get a plain write.
	plain := &plainBus{sim}
	sim.Ops = nil
	if err := w1.WritePower(plain, 0x44); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sim.Ops, []w1test.IO{{Kind: w1test.Write, B: 0x44}}) {
		t.Fatalf("unexpected ops %v", sim.Ops)
	}
}

func TestTx(t *testing.T) {
	addr := w1test.Address(0x28, 0x1234)
	sim := &w1test.Sim{Devices: []*w1test.Device{w1test.NewDevice(addr, 0)}}
	var r [9]byte
	w := append([]byte{w1.CmdMatchROM}, byte(addr), byte(addr>>8), byte(addr>>16), byte(addr>>24),
		byte(addr>>32), byte(addr>>40), byte(addr>>48), byte(addr>>56), 0xbe)
	if err := w1.Tx(sim, w, r[:]); err != nil {
		t.Fatal(err)
	}
	// Power-on scratchpad.
	if !onewire.CheckCRC(r[:]) || r[0] != 0x50 || r[1] != 0x05 {
		t.Fatalf("unexpected scratchpad %#v", r)
	}
	if sim.Ops[0].Kind != w1test.Reset {
		t.Fatalf("expected a reset first, got %s", sim.Ops[0].Kind)
	}
}

func TestTx_noDevice(t *testing.T) {
	sim := &w1test.Sim{}
	err := w1.Tx(sim, []byte{w1.CmdSkipROM}, nil)
	var nd onewire.NoDevicesError
	if !errors.As(err, &nd) || !nd.NoDevices() {
		t.Fatalf("expected a no devices error, got %v", err)
	}
	if len(sim.Written()) != 0 {
		t.Fatal("nothing must be written without presence")
	}
}

func TestRead(t *testing.T) {
	sim := &w1test.Sim{}
	var r [3]byte
	if err := w1.Read(sim, r[:]); err != nil {
		t.Fatal(err)
	}
	// Nobody drives the line.
	if r != [3]byte{0xff, 0xff, 0xff} {
		t.Fatalf("unexpected read %#v", r)
	}
	if n := sim.Count(w1test.Read); n != 3 {
		t.Fatalf("expected 3 reads, got %d", n)
	}
}

func TestSearch(t *testing.T) {
	var devs []*w1test.Device
	var expected []onewire.Address
	for _, serial := range []uint64{0x0e41ac, 0x0e41ad, 0x7fffff, 0x000001} {
		a := w1test.Address(0x28, serial)
		devs = append(devs, w1test.NewDevice(a, 0))
		expected = append(expected, a)
	}
	sim := &w1test.Sim{Devices: devs}
	addrs, err := w1.Search(sim, w1.CmdSearchROM)
	if err != nil {
		t.Fatal(err)
	}
	sortAddrs(addrs)
	sortAddrs(expected)
	if !reflect.DeepEqual(addrs, expected) {
		t.Fatalf("expected %#x, got %#x", expected, addrs)
	}
	if w := sim.Written(); w[0] != w1.CmdSearchROM {
		t.Fatalf("expected a search ROM command, got %#x", w[0])
	}
}

func TestSearch_alarm(t *testing.T) {
	// Power-on thresholds are TH=75 TL=70.
	hot := w1test.NewDevice(w1test.Address(0x28, 1), 0)
	hot.Scratchpad[0], hot.Scratchpad[1] = 0x40, 0x06 // 100°C
	ok := w1test.NewDevice(w1test.Address(0x28, 2), 0)
	ok.Scratchpad[0], ok.Scratchpad[1] = 0x90, 0x01 // 25°C
	ok.Scratchpad[3] = 10
	sim := &w1test.Sim{Devices: []*w1test.Device{hot, ok}}
	addrs, err := w1.Search(sim, w1.CmdAlarmSearch)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(addrs, []onewire.Address{hot.Addr}) {
		t.Fatalf("expected %#x, got %#x", hot.Addr, addrs)
	}

	// Nobody in alarm state is not an error.
	sim = &w1test.Sim{Devices: []*w1test.Device{ok}}
	if addrs, err = w1.Search(sim, w1.CmdAlarmSearch); err != nil || len(addrs) != 0 {
		t.Fatalf("expected nothing, got %#x, %v", addrs, err)
	}
}

func TestSearch_noDevice(t *testing.T) {
	addrs, err := w1.Search(&w1test.Sim{}, w1.CmdSearchROM)
	var nd onewire.NoDevicesError
	if len(addrs) != 0 || !errors.As(err, &nd) {
		t.Fatalf("expected a no devices error, got %#x, %v", addrs, err)
	}
}

func TestSearch_unsupported(t *testing.T) {
	sim := &w1test.Sim{}
	if _, err := w1.Search(sim, w1.CmdReadROM); err == nil {
		t.Fatal("expected an error")
	}
	if len(sim.Ops) != 0 {
		t.Fatal("expected no bus traffic")
	}
}

func TestSearcher(t *testing.T) {
	a := w1test.Address(0x28, 0x55)
	sim := &w1test.Sim{Devices: []*w1test.Device{w1test.NewDevice(a, 0)}}
	s := &w1.Searcher{Bus: sim}
	if s.String() != "sim" {
		t.Fatal(s.String())
	}
	if err := s.Tx([]byte{w1.CmdSearchROM}, nil, onewire.WeakPullup); err != nil {
		t.Fatal(err)
	}
	tr, err := s.SearchTriplet(0)
	if err != nil {
		t.Fatal(err)
	}
	bit := byte(a & 1)
	if tr.GotZero != (bit == 0) || tr.GotOne != (bit == 1) || tr.Taken != bit {
		t.Fatalf("unexpected triplet %+v", tr)
	}
	// Read bit, read complement, write direction.
	kinds := []w1test.Kind{w1test.ReadBit, w1test.ReadBit, w1test.WriteBit}
	ops := sim.Ops[len(sim.Ops)-3:]
	for i, k := range kinds {
		if ops[i].Kind != k {
			t.Fatalf("#%d: expected %s, got %s", i, k, ops[i].Kind)
		}
	}

	quiet := w1test.NewDevice(a, 0)
	quiet.Scratchpad[2] = 100 // the power-on 85°C is above TH=75
	sim = &w1test.Sim{Devices: []*w1test.Device{quiet}}
	s = &w1.Searcher{Bus: sim}
	if err := s.Tx([]byte{w1.CmdAlarmSearch}, nil, onewire.WeakPullup); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SearchTriplet(0); err != w1.ErrSearchNoResponse {
		t.Fatalf("expected ErrSearchNoResponse, got %v", err)
	}
	if sim.Count(w1test.WriteBit) != 0 {
		t.Fatal("no direction must be written when nobody answered")
	}
}

func TestCRC8(t *testing.T) {
	if c := w1.CRC8([]byte{0x50, 0x05, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10}); c != 0x1c {
		t.Fatalf("unexpected CRC %#x", c)
	}
}

func TestLock(t *testing.T) {
	sim := &w1test.Sim{}
	unlock := w1.Lock(sim)
	if sim.TryLock() {
		t.Fatal("expected the bus to be locked")
	}
	unlock()
	if !sim.TryLock() {
		t.Fatal("expected the bus to be unlocked")
	}
	sim.Unlock()
	// Buses that are not lockers get a no-op.
	w1.Lock(&plainBus{sim})()
}

// plainBus hides everything but w1.Bus.
type plainBus struct {
	b w1.Bus
}

func (p *plainBus) String() string { return p.b.String() }
func (p *plainBus) Reset() (bool, error) { return p.b.Reset() }
func (p *plainBus) WriteByte(b byte) error { return p.b.WriteByte(b) }
func (p *plainBus) ReadByte() (byte, error) { return p.b.ReadByte() }
func (p *plainBus) ReadBit() (bool, error) { return p.b.ReadBit() }
func (p *plainBus) Search(alarmOnly bool) ([]onewire.Address, error) { return p.b.Search(alarmOnly) }

func sortAddrs(a []onewire.Address) {
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
}
