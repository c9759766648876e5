// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owdevices is a container for 1-wire thermometer drivers and bus
// masters.
//
// ds18b20 talks to DS18B20 thermometers over any w1.Bus. ds248x and w1uart
// are bus masters; w1test simulates a bus for tests.
package owdevices
