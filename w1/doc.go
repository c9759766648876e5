// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package w1 defines a 1-wire bus master at the level of individual reset
// pulses, bytes and time slots.
//
// periph.io/x/conn/v3/onewire models a bus as whole transactions. Some device
// protocols need finer control, for example polling a single read slot to
// learn whether a temperature conversion finished, or leaving the bus between
// the command and the data phase. Bus masters in this repository implement
// w1.Bus, and most of them also implement onewire.Bus.
//
// Addresses, CRC-8 and the search algorithm are the ones of package onewire.
//
// # References
//
// Book of iButton standards: https://www.analog.com/media/en/technical-documentation/tech-articles/book-of-ibuttonreg-standards.pdf
package w1
