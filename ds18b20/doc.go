// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds18b20 interfaces to Dallas Semi / Maxim DS18B20 digital
// thermometers on a 1-wire bus.
//
// Range: -55°C - 125°C
//
// Accuracy: +/- 0.5°C from -10°C to 85°C
//
// Resolution: 9 to 12 bits, 0.5°C to 0.0625°C
//
// The package level functions implement the device protocol as stateless
// reset/select/command exchanges over a w1.Bus: conversions, scratchpad reads
// with CRC validation, resolution and alarm threshold updates persisted to
// EEPROM, and the alarm search. Dev wraps them in a physic.SenseEnv.
//
// Functions lock the bus for the duration of their exchange if it implements
// sync.Locker. None of them waits for a conversion to finish: ReadTemperature
// and AllDone poll once and callers own the retry loop.
//
// For detailed information, refer to the [datasheet].
//
// [datasheet]: https://www.analog.com/media/en/technical-documentation/data-sheets/DS18B20.pdf
package ds18b20
