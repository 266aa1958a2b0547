// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiregpio

import (
	"encoding/binary"

	"periph.io/x/conn/v3/onewire"

	"github.com/GermanBionicSystems/onewiregpio/common"
)

// 1-wire ROM commands. These values are fixed by the protocol and shared by
// every Dallas/Maxim compatible device.
const (
	cmdReadROM     = 0x33 // read the address of the only device on the bus
	cmdMatchROM    = 0x55 // select one device by address
	cmdSkipROM     = 0xcc // address every device at once
	cmdAlarmSearch = 0xec // enumerate only devices in alarm state
	cmdSearchROM   = 0xf0 // enumerate all devices
)

// SkipROM addresses every device on the bus at once. It is the usual prelude
// to a broadcast command, or to any command when exactly one device is
// present.
func (b *Bus) SkipROM() error {
	b.Lock()
	defer b.Unlock()
	b.writeByte(cmdSkipROM)
	return b.err
}

// ReadROM reads the address of the only device on the bus.
//
// With more than one device present the wired-AND of their replies corrupts
// the address; the checksum catches that, but use Search on a shared bus.
func (b *Bus) ReadROM() (onewire.Address, error) {
	b.Lock()
	defer b.Unlock()
	if present, err := b.reset(); err != nil {
		return 0, err
	} else if !present {
		return 0, noDevicesError("onewiregpio: no device present")
	}
	b.writeByte(cmdReadROM)
	var rom [8]byte
	b.readBytes(rom[:])
	if b.err != nil {
		return 0, b.err
	}
	if !common.CheckCRC(rom[:]) {
		return 0, busError("onewiregpio: invalid ROM checksum")
	}
	return romToAddress(rom), nil
}

// MatchROM addresses the device with the given address. It does not issue a
// reset; use Select unless the reset was already performed.
func (b *Bus) MatchROM(addr onewire.Address) error {
	b.Lock()
	defer b.Unlock()
	b.matchROM(addr)
	return b.err
}

// Select issues a reset followed by Match-ROM, leaving the addressed device
// ready for a device specific command. It returns a no-devices error, and
// sends nothing further, if no presence pulse is detected.
func (b *Bus) Select(addr onewire.Address) error {
	b.Lock()
	defer b.Unlock()
	if present, err := b.reset(); err != nil {
		return err
	} else if !present {
		return noDevicesError("onewiregpio: no device present")
	}
	b.matchROM(addr)
	return b.err
}

func (b *Bus) matchROM(addr onewire.Address) {
	b.writeByte(cmdMatchROM)
	rom := addressToROM(addr)
	b.writeBytes(rom[:])
}

// An onewire.Address packs the 8 ROM bytes little-endian: the family code,
// sent first on the wire, is the low byte and the CRC the high byte.
func romToAddress(rom [8]byte) onewire.Address {
	return onewire.Address(binary.LittleEndian.Uint64(rom[:]))
}

func addressToROM(addr onewire.Address) [8]byte {
	var rom [8]byte
	binary.LittleEndian.PutUint64(rom[:], uint64(addr))
	return rom
}
