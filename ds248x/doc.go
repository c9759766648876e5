// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds248x controls a Maxim DS2482-100, DS2482-800 or DS2483 I²C to
// 1-wire bridge.
//
// Dev drives the 1-wire bus at byte and bit level so that it can be handed to
// the ds18b20 package as a w1.Bus. It keeps implementing onewire.Bus for the
// periph ecosystem.
//
// # Datasheets
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2482-100.pdf
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2482-800.pdf
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2483.pdf
package ds248x
