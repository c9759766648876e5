// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1

import (
	"periph.io/x/conn/v3/onewire"
)

// Searcher adapts a BitBus to onewire.BusSearcher so that onewire.Search can
// enumerate devices using nothing but bit primitives.
//
// Searcher does not lock the bus.
type Searcher struct {
	Bus BitBus
}

func (s *Searcher) String() string {
	return s.Bus.String()
}

// Tx implements onewire.Bus. The pull-up is always weak.
func (s *Searcher) Tx(w, r []byte, power onewire.Pullup) error {
	return Tx(s.Bus, w, r)
}

// Search implements onewire.Bus.
func (s *Searcher) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.Search(s, alarmOnly)
}

// SearchTriplet implements onewire.BusSearcher.
//
// It reads the address bit of all participating devices, then its
// complement, and writes back the direction taken. Devices whose bit differs
// from the direction written drop out of the search.
func (s *Searcher) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	var tr onewire.TripletResult
	bit, err := s.Bus.ReadBit()
	if err != nil {
		return tr, err
	}
	cmp, err := s.Bus.ReadBit()
	if err != nil {
		return tr, err
	}
	// The line is wired-AND: a zero is read as soon as one device sends it.
	tr.GotZero = !bit
	tr.GotOne = !cmp
	switch {
	case tr.GotZero && !tr.GotOne:
		tr.Taken = 0
	case tr.GotOne && !tr.GotZero:
		tr.Taken = 1
	case tr.GotOne && tr.GotZero:
		tr.Taken = direction & 1
	default:
		return tr, ErrSearchNoResponse
	}
	return tr, s.Bus.WriteBit(tr.Taken == 1)
}

var _ onewire.BusSearcher = &Searcher{}
