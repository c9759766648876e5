// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/GermanBionicSystems/owdevices/ds18b20"
	"github.com/GermanBionicSystems/owdevices/thermostrip"
	"github.com/GermanBionicSystems/owdevices/w1"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

var commands = []cli.Command{
	{
		Name:   "scan",
		Usage:  "list the thermometers on the bus",
		Action: withBus(scan),
	},
	{
		Name:      "read",
		Usage:     "convert on all thermometers at once and read them",
		ArgsUsage: "[ADDR...]",
		Action:    withBus(read),
	},
	{
		Name:  "resolution",
		Usage: "show or change the conversion resolution",
		Subcommands: []cli.Command{
			{
				Name:      "get",
				ArgsUsage: "[ADDR...]",
				Action:    withBus(getResolution),
			},
			{
				Name:      "set",
				ArgsUsage: "BITS [ADDR...]",
				Action:    withBus(setResolution),
			},
		},
	},
	{
		Name:  "alarm",
		Usage: "show or change the alarm thresholds",
		Subcommands: []cli.Command{
			{
				Name:      "set-low",
				ArgsUsage: "CELSIUS ADDR...",
				Action:    withBus(setAlarm(ds18b20.SetAlarmLow)),
			},
			{
				Name:      "set-high",
				ArgsUsage: "CELSIUS ADDR...",
				Action:    withBus(setAlarm(ds18b20.SetAlarmHigh)),
			},
			{
				Name:      "disable",
				ArgsUsage: "ADDR...",
				Action:    withBus(disableAlarm),
			},
			{
				Name:      "show",
				ArgsUsage: "[ADDR...]",
				Action:    withBus(showAlarm),
			},
		},
	},
	{
		Name:   "alarms",
		Usage:  "convert and list the thermometers in alarm state",
		Action: withBus(alarms),
	},
	{
		Name:      "watch",
		Usage:     "read periodically and draw a colored strip",
		ArgsUsage: "[ADDR...]",
		Action:    withBus(watch),
	},
}

type action func(c *cli.Context, b w1.Bus) error

// withBus opens the bus master around f.
func withBus(f action) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		b, closeBus, err := openBus()
		if err != nil {
			return err
		}
		defer func() {
			if err := closeBus(); err != nil {
				log.WithError(err).Warn("closing bus")
			}
		}()
		return f(c, b)
	}
}

func scan(c *cli.Context, b w1.Bus) error {
	addrs, err := scanDevices(b)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		p, err := ds18b20.Parasitic(b, a)
		if err != nil {
			log.WithError(err).WithField("addr", formatAddr(a)).Warn("reading power supply")
			continue
		}
		power := "external"
		if p {
			power = "parasitic"
		}
		fmt.Printf("%s %s %s\n", formatAddr(a), label(a), power)
	}
	return nil
}

func read(c *cli.Context, b w1.Bus) error {
	addrs, err := devices(b, c.Args())
	if err != nil {
		return err
	}
	if err := convertAll(b); err != nil {
		return err
	}
	failed := 0
	for _, a := range addrs {
		t, err := ds18b20.ReadTemperature(b, a)
		if err != nil {
			log.WithError(err).WithField("addr", formatAddr(a)).Error("reading temperature")
			failed++
			continue
		}
		fmt.Printf("%s %s %s\n", formatAddr(a), label(a), t)
	}
	if failed != 0 {
		return errors.Errorf("%d of %d readings failed", failed, len(addrs))
	}
	return nil
}

func getResolution(c *cli.Context, b w1.Bus) error {
	addrs, err := devices(b, c.Args())
	if err != nil {
		return err
	}
	for _, a := range addrs {
		r, err := ds18b20.GetResolution(b, a)
		if err != nil {
			return errors.Wrapf(err, "reading resolution of %s", formatAddr(a))
		}
		fmt.Printf("%s %s %s\n", formatAddr(a), label(a), r)
	}
	return nil
}

func setResolution(c *cli.Context, b w1.Bus) error {
	args := c.Args()
	if len(args) == 0 {
		return errors.New("missing resolution")
	}
	bits, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.Wrapf(err, "invalid resolution %q", args[0])
	}
	addrs, err := devices(b, args[1:])
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if err := ds18b20.SetResolution(b, a, ds18b20.Resolution(bits)); err != nil {
			return errors.Wrapf(err, "setting resolution of %s", formatAddr(a))
		}
		log.WithField("addr", formatAddr(a)).Infof("resolution set to %d bits", bits)
	}
	return nil
}

func setAlarm(set func(b w1.Bus, addr onewire.Address, c int) error) action {
	return func(c *cli.Context, b w1.Bus) error {
		args := c.Args()
		if len(args) < 2 {
			return errors.New("expected a temperature and at least one address")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Wrapf(err, "invalid temperature %q", args[0])
		}
		addrs, err := devices(b, args[1:])
		if err != nil {
			return err
		}
		for _, a := range addrs {
			if err := set(b, a, v); err != nil {
				return errors.Wrapf(err, "setting alarm of %s", formatAddr(a))
			}
		}
		return nil
	}
}

func disableAlarm(c *cli.Context, b w1.Bus) error {
	if len(c.Args()) == 0 {
		return errors.New("expected at least one address")
	}
	addrs, err := devices(b, c.Args())
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if err := ds18b20.DisableAlarm(b, a); err != nil {
			return errors.Wrapf(err, "disabling alarm of %s", formatAddr(a))
		}
	}
	return nil
}

func showAlarm(c *cli.Context, b w1.Bus) error {
	addrs, err := devices(b, c.Args())
	if err != nil {
		return err
	}
	for _, a := range addrs {
		high, low, err := ds18b20.Alarms(b, a)
		if err != nil {
			return errors.Wrapf(err, "reading alarm of %s", formatAddr(a))
		}
		fmt.Printf("%s %s low=%d°C high=%d°C\n", formatAddr(a), label(a), low, high)
	}
	return nil
}

func alarms(c *cli.Context, b w1.Bus) error {
	// The alarm flag is updated by conversions.
	if err := convertAll(b); err != nil {
		return err
	}
	addrs, err := ds18b20.AlarmSearch(b)
	if err != nil {
		return errors.Wrap(err, "alarm search")
	}
	if len(addrs) == 0 {
		log.Info("no thermometer in alarm state")
	}
	for _, a := range addrs {
		fmt.Printf("%s %s\n", formatAddr(a), label(a))
	}
	return nil
}

func watch(c *cli.Context, b w1.Bus) error {
	r := ds18b20.Resolution(viper.GetInt("sensor.resolution"))
	addrs, err := devices(b, c.Args())
	if err != nil {
		return err
	}
	var devs []*ds18b20.Dev
	for _, a := range addrs {
		d, err := ds18b20.New(b, a, r)
		if err != nil {
			log.WithError(err).WithField("addr", formatAddr(a)).Warn("skipping thermometer")
			continue
		}
		devs = append(devs, d)
	}
	if len(devs) == 0 {
		return errors.New("no thermometer to watch")
	}
	strip, err := thermostrip.New(&thermostrip.Opts{
		Min: celsius(viper.GetFloat64("watch.min")),
		Max: celsius(viper.GetFloat64("watch.max")),
	})
	if err != nil {
		return err
	}
	defer strip.Halt()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	t := time.NewTicker(viper.GetDuration("watch.period"))
	defer t.Stop()
	for {
		readings := make([]thermostrip.Reading, len(devs))
		err := ds18b20.ConvertAll(b, r)
		for i, d := range devs {
			readings[i].Label = label(d.Addr())
			if readings[i].Err = err; err == nil {
				readings[i].Temp, readings[i].Err = d.LastTemp()
			}
			if readings[i].Err != nil {
				log.WithError(readings[i].Err).WithField("dev", d).Debug("reading")
			}
		}
		if err := strip.Write(readings); err != nil {
			return err
		}
		select {
		case <-sig:
			return nil
		case <-t.C:
		}
	}
}

// convertAll starts a conversion on every thermometer and polls until they are
// all done. Parasitically powered buses cannot be polled and wait for the
// conversion time instead.
func convertAll(b w1.Bus) error {
	if viper.GetBool("sensor.parasitic") {
		return ds18b20.ConvertAll(b, ds18b20.Resolution(viper.GetInt("sensor.resolution")))
	}
	interval := viper.GetDuration("read.interval")
	timeout := viper.GetDuration("read.timeout")
	if err := ds18b20.StartConversionAll(b); err != nil {
		return errors.Wrap(err, "starting conversion")
	}
	deadline := time.Now().Add(timeout)
	for polls := 1; ; polls++ {
		done, err := ds18b20.AllDone(b)
		if err != nil {
			return errors.Wrap(err, "polling conversion")
		}
		if done {
			log.WithField("polls", polls).Debug("conversion done")
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("conversion still running after %s", timeout)
		}
		time.Sleep(interval)
	}
}

// devices parses the addresses in args, or searches the bus when there is
// none.
func devices(b w1.Bus, args []string) ([]onewire.Address, error) {
	if len(args) == 0 {
		return scanDevices(b)
	}
	addrs := make([]onewire.Address, 0, len(args))
	for _, s := range args {
		a, err := parseAddr(s)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// scanDevices returns the DS18B20 found on the bus.
func scanDevices(b w1.Bus) ([]onewire.Address, error) {
	unlock := w1.Lock(b)
	all, err := w1.Search(b, w1.CmdSearchROM)
	unlock()
	if err != nil {
		return nil, errors.Wrap(err, "searching the bus")
	}
	var addrs []onewire.Address
	for _, a := range all {
		if !ds18b20.IsDevice(a) {
			log.WithField("addr", formatAddr(a)).Debugf("skipping family %#02x", byte(a))
			continue
		}
		addrs = append(addrs, a)
	}
	log.WithField("count", len(addrs)).Debug("scan done")
	return addrs, nil
}

func parseAddr(s string) (onewire.Address, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address %q", s)
	}
	a := onewire.Address(v)
	if !onewire.CheckCRC([]byte{byte(a), byte(a >> 8), byte(a >> 16), byte(a >> 24), byte(a >> 32), byte(a >> 40), byte(a >> 48), byte(a >> 56)}) {
		return 0, errors.Errorf("invalid address %q: bad CRC", s)
	}
	if !ds18b20.IsDevice(a) {
		return 0, errors.Errorf("%s is not a DS18B20", s)
	}
	return a, nil
}

func formatAddr(a onewire.Address) string {
	return fmt.Sprintf("%016x", uint64(a))
}

// label returns the name configured for a in the labels table.
func label(a onewire.Address) string {
	if l := viper.GetString("labels." + formatAddr(a)); l != "" {
		return l
	}
	return "-"
}

func celsius(c float64) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(c*float64(physic.Kelvin))
}
