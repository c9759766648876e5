// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"github.com/GermanBionicSystems/owdevices/ds248x"
	"github.com/GermanBionicSystems/owdevices/w1"
	"github.com/GermanBionicSystems/owdevices/w1uart"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// openBus opens the configured bus master. The returned function releases it.
func openBus() (w1.Bus, func() error, error) {
	switch kind := viper.GetString("bus.kind"); kind {
	case "ds248x":
		if _, err := host.Init(); err != nil {
			return nil, nil, errors.Wrap(err, "initializing host drivers")
		}
		i, err := i2creg.Open(viper.GetString("bus.i2c"))
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening I²C bus")
		}
		opts := ds248x.DefaultOpts
		opts.PassivePullup = viper.GetBool("bus.passive_pullup")
		d, err := ds248x.New(i, uint16(viper.GetInt("bus.addr")), &opts)
		if err != nil {
			i.Close()
			return nil, nil, err
		}
		if err := d.ChannelSelect(viper.GetInt("bus.channel")); err != nil {
			i.Close()
			return nil, nil, err
		}
		log.WithField("bus", d).Debug("bus master ready")
		return d, i.Close, nil
	case "uart":
		d, err := w1uart.New(viper.GetString("bus.uart"), &w1uart.DefaultOpts)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("bus", d).Debug("bus master ready")
		return d, d.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown bus master %q, expected ds248x or uart", kind)
	}
}
