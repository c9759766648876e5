// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package thermostrip renders temperature readings as a strip of colored
// blocks on a terminal using ANSI color codes, from blue for cold to red for
// hot.
package thermostrip

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/physic"
)

// Opts represents the options available for this display.
type Opts struct {
	// Min and Max bound the color scale. Readings outside are clamped.
	Min, Max physic.Temperature
	Palette  *ansi256.Palette
	// W defaults to stdout.
	W io.Writer

	_ struct{}
}

// DefaultOpts covers the usual indoor and outdoor range.
var DefaultOpts = Opts{
	Min: physic.ZeroCelsius - 10*physic.Kelvin,
	Max: physic.ZeroCelsius + 40*physic.Kelvin,
}

// Reading is one labelled sensor value. A reading with Err set is drawn as an
// uncolored question mark.
type Reading struct {
	Label string
	Temp  physic.Temperature
	Err   error
}

// Dev is a temperature strip that outputs to the console.
type Dev struct {
	w        io.Writer
	min, max physic.Temperature
	palette  ansi256.Palette

	buf bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) (*Dev, error) {
	if opts.Min >= opts.Max {
		return nil, errors.New("thermostrip: empty temperature range")
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	return &Dev{w: w, min: opts.Min, max: opts.Max, palette: *p}, nil
}

func (d *Dev) String() string {
	return "ThermoStrip"
}

// Halt implements conn.Resource.
//
// It resets the terminal colors.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Color returns the color of t on the scale.
func (d *Dev) Color(t physic.Temperature) color.NRGBA {
	if t < d.min {
		t = d.min
	}
	if t > d.max {
		t = d.max
	}
	f := float64(t-d.min) / float64(d.max-d.min)
	return color.NRGBA{R: byte(255 * f), B: byte(255 * (1 - f)), A: 255}
}

// Write draws one line with a block per reading, overwriting the previous
// line.
func (d *Dev) Write(readings []Reading) error {
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for i, r := range readings {
		if i != 0 {
			_ = d.buf.WriteByte(' ')
		}
		if r.Err != nil {
			_, _ = fmt.Fprintf(&d.buf, "? %s", r.Label)
			continue
		}
		_, _ = io.WriteString(&d.buf, d.palette.Block(d.Color(r.Temp)))
		_, _ = fmt.Fprintf(&d.buf, "\033[0m %s %s", r.Label, r.Temp)
	}
	_, _ = d.buf.WriteString("\033[0m ")
	_, err := d.buf.WriteTo(d.w)
	return err
}

var _ fmt.Stringer = &Dev{}
