// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"time"

	"github.com/GermanBionicSystems/owdevices/w1"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// Family code of the specific device type
type Family byte

func (f Family) String() string {
	switch f {
	case DS18S20:
		return "DS18S20"
	case DS18B20:
		return "DS18B20"
	default:
		return "unknown"
	}
}

const DS18B20 Family = 0x28
const DS18S20 Family = 0x10

// Function commands, datasheet p.11.
const (
	cmdConvert   = 0x44
	cmdWritePad  = 0x4e
	cmdReadPad   = 0xbe
	cmdCopyPad   = 0x48
	cmdRecall    = 0xb8
	cmdReadPower = 0xb4
)

// Range of the alarm thresholds. Values outside are clamped.
const (
	MinAlarm = -55
	MaxAlarm = 125
)

var (
	// ErrNotDS18B20 is returned when the address family code is not 0x28. No
	// bus traffic happened.
	ErrNotDS18B20 = errors.New("ds18b20: address is not a DS18B20")
	// ErrNotReady is returned by ReadTemperature when a conversion is still
	// in progress.
	ErrNotReady = errors.New("ds18b20: conversion in progress")
	// ErrCRC is returned when the scratchpad CRC does not match its content.
	ErrCRC error = busError("ds18b20: incorrect scratchpad CRC")
	// ErrNoResponse is returned when the scratchpad read back as all ones.
	ErrNoResponse error = busError("ds18b20: device did not respond")
	// ErrUnsupportedResolution is returned for resolutions outside 9..12 bits.
	ErrUnsupportedResolution = errors.New("ds18b20: unsupported resolution")
)

// IsDevice returns true if addr belongs to a DS18B20.
func IsDevice(addr onewire.Address) bool {
	return Family(addr&0xff) == DS18B20
}

// StartConversion starts a temperature conversion on the device at addr and
// returns immediately.
//
// The conversion takes Resolution.ConversionTime(); use AllDone or
// ReadTemperature to learn when it is done.
func StartConversion(b w1.Bus, addr onewire.Address) error {
	if !IsDevice(addr) {
		return ErrNotDS18B20
	}
	defer w1.Lock(b)()
	if err := selectDev(b, addr); err != nil {
		return err
	}
	return w1.WritePower(b, cmdConvert)
}

// StartConversionAll starts a conversion on all devices on the bus at once
// and returns immediately.
//
// To be used in conjunction with AllDone() and ReadTemperature(). Conversion
// timing must be handled by other means.
func StartConversionAll(b w1.Bus) error {
	defer w1.Lock(b)()
	if _, err := b.Reset(); err != nil {
		return err
	}
	if err := w1.SelectAll(b); err != nil {
		return err
	}
	return w1.WritePower(b, cmdConvert)
}

// ConvertAll performs a conversion on all DS18B20 devices on the bus.
//
// It returns when the conversions have completed. This time period is
// determined by the maximum resolution of all devices on the bus and must be
// provided.
//
// ConvertAll uses time.Sleep to wait for the conversion to finish, which takes
// from 94ms to 752ms.
func ConvertAll(b w1.Bus, maxResolution Resolution) error {
	if !maxResolution.valid() {
		return ErrUnsupportedResolution
	}
	if err := StartConversionAll(b); err != nil {
		return err
	}
	sleep(maxResolution.ConversionTime())
	return nil
}

// AllDone polls a single read slot and returns true when no device holds the
// line low anymore, i.e. all conversions finished.
//
// It never waits. On some bus topologies the line may read released before
// the conversion is truly over; applications should also wait for
// Resolution.ConversionTime() since the conversion started.
func AllDone(b w1.Bus) (bool, error) {
	defer w1.Lock(b)()
	return b.ReadBit()
}

// ReadTemperature reads the result of the last conversion of the device at
// addr.
//
// It first polls one read slot and returns ErrNotReady without further
// traffic if a conversion is in progress. The scratchpad is then read and its
// CRC validated; the bus is reset afterward whatever the outcome.
func ReadTemperature(b w1.Bus, addr onewire.Address) (physic.Temperature, error) {
	if !IsDevice(addr) {
		return 0, ErrNotDS18B20
	}
	defer w1.Lock(b)()
	idle, err := b.ReadBit()
	if err != nil {
		return 0, err
	}
	if !idle {
		return 0, ErrNotReady
	}
	s, err := readScratchpad(b, addr)
	if err != nil {
		return 0, err
	}
	return s.Temperature()
}

// GetResolution returns the resolution configured in the device.
func GetResolution(b w1.Bus, addr onewire.Address) (Resolution, error) {
	if !IsDevice(addr) {
		return 0, ErrNotDS18B20
	}
	defer w1.Lock(b)()
	s, err := readScratchpad(b, addr)
	if err != nil {
		return 0, err
	}
	return s.Resolution(), nil
}

// SetResolution configures the resolution of the device and copies it to
// its EEPROM. The alarm thresholds are left untouched.
func SetResolution(b w1.Bus, addr onewire.Address, r Resolution) error {
	if !IsDevice(addr) {
		return ErrNotDS18B20
	}
	if !r.valid() {
		return ErrUnsupportedResolution
	}
	return update(b, addr, func(s *Scratchpad) {
		s[4] = r.config(s[4])
	})
}

// SetAlarmLow sets the low alarm threshold in °C. t is clamped to
// [MinAlarm, MaxAlarm].
func SetAlarmLow(b w1.Bus, addr onewire.Address, t int) error {
	if !IsDevice(addr) {
		return ErrNotDS18B20
	}
	return update(b, addr, func(s *Scratchpad) {
		s[3] = byte(clamp(t))
	})
}

// SetAlarmHigh sets the high alarm threshold in °C. t is clamped to
// [MinAlarm, MaxAlarm].
func SetAlarmHigh(b w1.Bus, addr onewire.Address, t int) error {
	if !IsDevice(addr) {
		return ErrNotDS18B20
	}
	return update(b, addr, func(s *Scratchpad) {
		s[2] = byte(clamp(t))
	})
}

// DisableAlarm sets the thresholds to the widest range, 125°C and -55°C, so
// that the device never enters the alarm state.
func DisableAlarm(b w1.Bus, addr onewire.Address) error {
	if !IsDevice(addr) {
		return ErrNotDS18B20
	}
	return update(b, addr, func(s *Scratchpad) {
		s[2] = byte(clamp(MaxAlarm))
		s[3] = byte(clamp(MinAlarm))
	})
}

// Alarms returns the high and low alarm thresholds in °C.
func Alarms(b w1.Bus, addr onewire.Address) (high, low int8, err error) {
	if !IsDevice(addr) {
		return 0, 0, ErrNotDS18B20
	}
	defer w1.Lock(b)()
	s, err := readScratchpad(b, addr)
	if err != nil {
		return 0, 0, err
	}
	return s.High(), s.Low(), nil
}

// AlarmSearch returns the addresses of the devices whose last conversion is
// at or outside their alarm thresholds.
func AlarmSearch(b w1.Bus) ([]onewire.Address, error) {
	defer w1.Lock(b)()
	return w1.Search(b, w1.CmdAlarmSearch)
}

// Recall reloads the alarm thresholds and configuration from the device
// EEPROM into its scratchpad.
func Recall(b w1.Bus, addr onewire.Address) error {
	if !IsDevice(addr) {
		return ErrNotDS18B20
	}
	defer w1.Lock(b)()
	if err := selectDev(b, addr); err != nil {
		return err
	}
	return b.WriteByte(cmdRecall)
}

// Parasitic returns true if the device at addr is powered from the data line.
// Such devices need a strong pull-up during conversions and EEPROM copies.
func Parasitic(b w1.Bus, addr onewire.Address) (bool, error) {
	if !IsDevice(addr) {
		return false, ErrNotDS18B20
	}
	defer w1.Lock(b)()
	if err := selectDev(b, addr); err != nil {
		return false, err
	}
	if err := b.WriteByte(cmdReadPower); err != nil {
		return false, err
	}
	external, err := b.ReadBit()
	return !external, err
}

//

// selectDev resets the bus and addresses the device. The presence pulse is
// not checked; a missing device shows up as ErrNoResponse on reads.
func selectDev(b w1.Bus, addr onewire.Address) error {
	if _, err := b.Reset(); err != nil {
		return err
	}
	return w1.Select(b, addr)
}

// readScratchpad reads the 9 bytes of scratchpad and checks the CRC. The bus
// is reset after the read.
func readScratchpad(b w1.Bus, addr onewire.Address) (Scratchpad, error) {
	var s Scratchpad
	if err := selectDev(b, addr); err != nil {
		return s, err
	}
	if err := b.WriteByte(cmdReadPad); err != nil {
		return s, err
	}
	if err := w1.Read(b, s[:]); err != nil {
		return s, err
	}
	if _, err := b.Reset(); err != nil {
		return s, err
	}
	return s, s.Check()
}

// update reads the scratchpad, lets f modify the threshold and configuration
// bytes, writes them back and copies them to EEPROM.
func update(b w1.Bus, addr onewire.Address, f func(s *Scratchpad)) error {
	defer w1.Lock(b)()
	s, err := readScratchpad(b, addr)
	if err != nil {
		return err
	}
	f(&s)
	if err := selectDev(b, addr); err != nil {
		return err
	}
	if err := w1.Write(b, []byte{cmdWritePad, s[2], s[3], s[4]}); err != nil {
		return err
	}
	if err := selectDev(b, addr); err != nil {
		return err
	}
	if err := w1.WritePower(b, cmdCopyPad); err != nil {
		return err
	}
	// Wait for the EEPROM write to complete, datasheet p.12.
	sleep(10 * time.Millisecond)
	return nil
}

func clamp(t int) int8 {
	if t > MaxAlarm {
		t = MaxAlarm
	}
	if t < MinAlarm {
		t = MinAlarm
	}
	return int8(t)
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var sleep = time.Sleep

var _ onewire.BusError = busError("")
