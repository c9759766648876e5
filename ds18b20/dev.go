// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/owdevices/w1"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// ErrNoConversion is returned by LastTemp when the device still holds its
// power-on value.
var ErrNoConversion error = busError("ds18b20: has not performed a temperature conversion (insufficient pull-up?)")

// New returns an object that communicates over 1-wire to the DS18B20 sensor
// with the specified 64-bit address.
//
// r determines how many bits of precision the readings have. A resolution of
// 10 bits corresponds to 0.25C and tends to be a good compromise between
// conversion time and the device's inherent accuracy of +/-0.5C.
//
// The resolution is written to the device EEPROM only if it differs.
func New(b w1.Bus, addr onewire.Address, r Resolution) (*Dev, error) {
	if !IsDevice(addr) {
		return nil, ErrNotDS18B20
	}
	if !r.valid() {
		return nil, ErrUnsupportedResolution
	}
	// Start by reading the scratchpad memory, this will tell us whether we can
	// talk to the device correctly and also how it's configured.
	cur, err := GetResolution(b, addr)
	if err != nil {
		return nil, err
	}
	if cur != r {
		if err := SetResolution(b, addr, r); err != nil {
			return nil, err
		}
	}
	return &Dev{bus: b, addr: addr, resolution: r}, nil
}

// Dev is a handle to a Dallas Semi / Maxim DS18B20 temperature sensor on a
// 1-wire bus.
type Dev struct {
	bus        w1.Bus
	addr       onewire.Address
	resolution Resolution

	mu   sync.Mutex
	stop chan struct{}
}

// Addr returns the 1-wire address of the device.
func (d *Dev) Addr() onewire.Address {
	return d.addr
}

func (d *Dev) Family() Family {
	return Family(d.addr & 0xFF)
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s{%s(0x%016x)}", d.Family(), d.bus, uint64(d.addr))
}

// Halt implements conn.Resource.
//
// It stops a SenseContinuous loop in progress.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	return nil
}

// Sense implements physic.SenseEnv.
//
// It starts a conversion, sleeps for the conversion time of the configured
// resolution and reads the result.
func (d *Dev) Sense(e *physic.Env) error {
	if err := StartConversion(d.bus, d.addr); err != nil {
		return err
	}
	sleep(d.resolution.ConversionTime())
	t, err := d.LastTemp()
	if err != nil {
		return err
	}
	e.Temperature = t
	return nil
}

// SenseContinuous implements physic.SenseEnv.
//
// The interval must be at least the conversion time. Readings that fail are
// skipped. Call Halt to stop.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < d.resolution.ConversionTime() {
		return nil, errors.New("ds18b20: interval shorter than the conversion time")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil, errors.New("ds18b20: already sensing continuously")
	}
	d.stop = make(chan struct{})
	ch := make(chan physic.Env, 16)
	go d.senseLoop(interval, ch, d.stop)
	return ch, nil
}

func (d *Dev) senseLoop(interval time.Duration, ch chan<- physic.Env, stop <-chan struct{}) {
	defer close(ch)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			var e physic.Env
			if err := d.Sense(&e); err != nil {
				continue
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = d.resolution.Step()
}

// Resolution returns the resolution the device was configured with.
func (d *Dev) Resolution() Resolution {
	return d.resolution
}

// LastTemp reads the temperature resulting from the last conversion from the
// device.
//
// It is useful in combination with StartConversionAll.
func (d *Dev) LastTemp() (physic.Temperature, error) {
	c, err := ReadTemperature(d.bus, d.addr)
	if err != nil {
		return 0, err
	}
	// The device powers up with a value of 85°C, so if we read that odds are
	// very high that either no conversion was performed or that the conversion
	// failed due to lack of power. This prevents reading a temp of exactly 85°C,
	// but that seems like the right tradeoff.
	if c == 85*physic.Kelvin+physic.ZeroCelsius {
		return 0, ErrNoConversion
	}
	return c, nil
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
