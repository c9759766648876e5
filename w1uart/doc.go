// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package w1uart implements a 1-wire bus master on a plain UART, such as a
// USB serial adapter, following Maxim application note 214.
//
// The reset pulse is a 0xF0 character sent at 9600 bauds: a device answering
// with a presence pulse corrupts the echo. Time slots are single characters at
// 115200 bauds, 0xFF for a one or a read slot and 0x00 for a zero.
//
// # Application note
//
// https://www.analog.com/en/resources/technical-articles/using-a-uart-to-implement-a-1wire-bus-master.html
package w1uart
