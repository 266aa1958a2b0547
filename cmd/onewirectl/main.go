// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// onewirectl pokes at a bit-banged 1-wire bus from the command line: check
// for a presence pulse, enumerate the devices on the bus, or read the ROM
// code of a lone device.
package main

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/onewiregpio"
)

var (
	rootCmd = &cobra.Command{
		Use:           "onewirectl",
		Short:         "1-wire bus master on a GPIO pin.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	cmdPing = &cobra.Command{
		Use:   "ping",
		Short: "Issue a reset and report whether any device answered",
		RunE:  runPing,
	}

	cmdList = &cobra.Command{
		Use:   "list",
		Short: "Enumerate the devices on the bus",
		RunE:  runList,
	}

	cmdReadROM = &cobra.Command{
		Use:   "readrom",
		Short: "Read the ROM code of the only device on the bus",
		RunE:  runReadROM,
	}
)

var (
	pinName   string
	usePullup bool
	alarmOnly bool
	verbose   bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&pinName, "pin", "p", "", "GPIO pin the data line is wired to, e.g. GPIO4")
	rootCmd.PersistentFlags().BoolVar(&usePullup, "pullup", false, "use the host's internal pull-up instead of an external resistor")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmdList.Flags().BoolVar(&alarmOnly, "alarm", false, "list only devices in alarm state")
	rootCmd.AddCommand(cmdPing, cmdList, cmdReadROM)
}

func openBus() (*onewiregpio.Bus, error) {
	if pinName == "" {
		return nil, errors.New("--pin is required")
	}
	state, err := host.Init()
	if err != nil {
		return nil, err
	}
	log.Debugf("host drivers loaded: %d", len(state.Loaded))
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("no such pin %q", pinName)
	}
	opts := onewiregpio.DefaultOpts
	if usePullup {
		opts.Pull = gpio.PullUp
	}
	log.Debugf("opening 1-wire bus on %s", p)
	return onewiregpio.New(p, &opts)
}

func runPing(cmd *cobra.Command, args []string) error {
	bus, err := openBus()
	if err != nil {
		return err
	}
	present, err := bus.Reset()
	if err != nil {
		return err
	}
	if !present {
		return errors.New("no presence pulse detected")
	}
	fmt.Println("device present")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	bus, err := openBus()
	if err != nil {
		return err
	}
	addrs, err := bus.Search(alarmOnly)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		fmt.Printf("%#016x family %#02x\n", uint64(addr), byte(addr))
	}
	log.Debugf("%d device(s) found", len(addrs))
	return nil
}

func runReadROM(cmd *cobra.Command, args []string) error {
	bus, err := openBus()
	if err != nil {
		return err
	}
	addr, err := bus.ReadROM()
	if err != nil {
		return err
	}
	fmt.Printf("%#016x family %#02x\n", uint64(addr), byte(addr))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
