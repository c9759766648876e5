// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// ds18b20 reads and configures DS18B20 thermometers on a 1-wire bus driven by
// a DS248x I²C bridge or a UART.
package main

import (
	"os"

	"github.com/mattn/go-colorable"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()

	app.Name = "ds18b20"
	app.Version = "0.1.0"
	app.Usage = "read and configure DS18B20 thermometers on a 1-wire bus"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "load configuration from `FILE`",
		},
		cli.StringFlag{
			Name:  "bus, b",
			Usage: "bus master: ds248x or uart",
		},
		cli.StringFlag{
			Name:  "i2c",
			Usage: "I²C bus the ds248x is on",
		},
		cli.IntFlag{
			Name:  "addr",
			Usage: "I²C address of the ds248x",
		},
		cli.StringFlag{
			Name:  "uart",
			Usage: "serial port wired to the 1-wire bus",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logs",
		},
	}
	app.Before = setup
	app.Commands = commands

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setup loads the configuration, lets the global flags override it and
// configures logging.
func setup(c *cli.Context) error {
	setDefaults()
	if f := c.String("config"); f != "" {
		viper.SetConfigType("toml")
		viper.SetConfigFile(f)
		if err := viper.ReadInConfig(); err != nil {
			return err
		}
	}
	for flag, key := range map[string]string{"bus": "bus.kind", "i2c": "bus.i2c", "uart": "bus.uart"} {
		if c.IsSet(flag) {
			viper.Set(key, c.String(flag))
		}
	}
	if c.IsSet("addr") {
		viper.Set("bus.addr", c.Int("addr"))
	}
	if c.Bool("debug") {
		viper.Set("core.debug", true)
	}

	log.SetOutput(colorable.NewColorableStderr())
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	if viper.GetBool("core.debug") {
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("core.debug", false)
	viper.SetDefault("bus.kind", "ds248x")
	viper.SetDefault("bus.i2c", "")
	viper.SetDefault("bus.addr", 0x18)
	viper.SetDefault("bus.channel", 0)
	viper.SetDefault("bus.passive_pullup", false)
	viper.SetDefault("bus.uart", "/dev/ttyUSB0")
	viper.SetDefault("sensor.resolution", 12)
	viper.SetDefault("read.interval", "50ms")
	viper.SetDefault("read.timeout", "1s")
	viper.SetDefault("watch.period", "5s")
	viper.SetDefault("watch.min", -10.0)
	viper.SetDefault("watch.max", 40.0)
}
