// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package onewiregpio implements a bit-banged Dallas/Maxim 1-wire bus master
// on a single GPIO pin.
//
// The data line is shared by every device on the bus and is pulled up to VCC
// by an external resistor (4.7kΩ is typical). The master and the devices
// signal by pulling the line low for timed intervals; released, the line
// floats back high. This package drives the reset/presence handshake, the
// bit and byte time slots, the ROM commands and the ROM search algorithm
// (Maxim application note 187) that enumerates the 64-bit addresses of all
// devices present without prior knowledge.
//
// Bus implements onewire.Bus from periph.io/x/conn/v3, so device drivers
// written against that interface, such as a DS18B20 driver, work unchanged
// on top of it.
//
// Timing is a busy-wait on the monotonic clock. A hosted operating system
// may still preempt the calling goroutine mid-slot; on such systems expect
// occasional retries, or run the process with a realtime scheduling policy.
// On bare metal runtimes supply a Guard in Opts to mask interrupts around
// each slot.
package onewiregpio
