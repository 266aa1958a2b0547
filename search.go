// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiregpio

import (
	"periph.io/x/conn/v3/onewire"

	"github.com/GermanBionicSystems/onewiregpio/common"
)

// Search implements onewire.Bus. It restarts the enumeration from scratch
// and returns the addresses of all devices on the bus, or of all devices in
// alarm state if alarmOnly is true.
//
// If an error occurs during the search the already discovered devices are
// returned with the error.
func (b *Bus) Search(alarmOnly bool) ([]onewire.Address, error) {
	b.Lock()
	defer b.Unlock()
	b.resetSearch()
	var found []onewire.Address
	for {
		addr, ok, err := b.searchNext(alarmOnly)
		if err != nil {
			return found, err
		}
		if !ok {
			return found, nil
		}
		found = append(found, addr)
	}
}

// SearchNext advances the enumeration by one device and returns its address.
//
// Repeated calls visit every device on the bus exactly once, in wire order,
// provided the bus topology does not change mid-enumeration. Once the last
// device has been reported, SearchNext returns ok==false without touching
// the bus until ResetSearch is called. On any bus level failure the search
// state is cleared, so the next call starts a fresh enumeration.
func (b *Bus) SearchNext(alarmOnly bool) (onewire.Address, bool, error) {
	b.Lock()
	defer b.Unlock()
	return b.searchNext(alarmOnly)
}

// ResetSearch clears the search state so the next SearchNext starts
// enumerating from the beginning.
func (b *Bus) ResetSearch() {
	b.Lock()
	defer b.Unlock()
	b.resetSearch()
}

// SearchTriplet performs a single bit search triplet on the bus: two read
// slots for the address bit and its complement, then a write slot steering
// the remaining devices. It encodes the outcome the way the ds248x bus
// extender does, so onewire.Search also works against this bus.
//
// SearchTriplet should not be used directly, use Search or SearchNext
// instead.
func (b *Bus) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	b.Lock()
	defer b.Unlock()
	idBit := b.readBit()
	cmpBit := b.readBit()
	taken := tripletDirection(idBit, cmpBit, direction)
	b.writeBit(taken)
	tr := onewire.TripletResult{
		GotZero: idBit == 0,
		GotOne:  cmpBit == 0,
		Taken:   taken,
	}
	return tr, b.err
}

func tripletDirection(idBit, cmpBit, direction byte) byte {
	switch {
	case idBit != 0 && cmpBit != 0:
		// Nobody answered; steer high like the ds248x does.
		return 1
	case idBit == 0 && cmpBit == 0:
		// Discrepancy, the caller picks the branch.
		if direction != 0 {
			return 1
		}
		return 0
	default:
		// All remaining devices agree.
		return idBit
	}
}

// searchNext runs one pass of the ROM search, Maxim application note 187.
//
// Each pass resolves the 64 address bits most recently walked branch first:
// below lastDiscrepancy it replays the bits of the previous address, at
// lastDiscrepancy it takes the 1 branch it previously deferred, and at any
// new discrepancy it takes 0 and remembers the position in lastZero. A pass
// that ends with no zero branch taken means every branch has been visited.
func (b *Bus) searchNext(alarmOnly bool) (onewire.Address, bool, error) {
	if b.err != nil {
		return 0, false, b.err
	}
	if b.lastDevice {
		return 0, false, nil
	}
	if present, err := b.reset(); err != nil {
		return 0, false, err
	} else if !present {
		b.resetSearch()
		return 0, false, noDevicesError("onewiregpio: no device present")
	}
	cmd := byte(cmdSearchROM)
	if alarmOnly {
		cmd = cmdAlarmSearch
	}
	b.writeByte(cmd)

	idBitNumber := 1 // 1-based position of the bit being resolved
	lastZero := 0
	romByte := 0
	romMask := byte(1)
	for romByte < 8 {
		// Every participating device answers with its address bit and then
		// its complement, both wired-AND across the bus.
		idBit := b.readBit()
		cmpBit := b.readBit()
		if b.err != nil {
			return 0, false, b.err
		}
		if idBit != 0 && cmpBit != 0 {
			// No device answered this slot pair.
			break
		}
		var direction byte
		if idBit != cmpBit {
			// All remaining devices agree on this bit.
			direction = idBit
		} else {
			// Discrepancy: replay the previous path below the last branch
			// point, take 1 exactly at it, 0 at any branch beyond it.
			if idBitNumber < b.lastDiscrepancy {
				if b.rom[romByte]&romMask != 0 {
					direction = 1
				}
			} else if idBitNumber == b.lastDiscrepancy {
				direction = 1
			}
			if direction == 0 {
				lastZero = idBitNumber
				if lastZero < 9 {
					b.lastFamilyDiscrepancy = lastZero
				}
			}
		}
		if direction != 0 {
			b.rom[romByte] |= romMask
		} else {
			b.rom[romByte] &^= romMask
		}
		// Devices whose bit disagrees drop out for the rest of this pass.
		b.writeBit(direction)
		if b.err != nil {
			return 0, false, b.err
		}
		idBitNumber++
		romMask <<= 1
		if romMask == 0 {
			romByte++
			romMask = 1
		}
	}

	if idBitNumber < 65 {
		aborted := idBitNumber > 1
		b.resetSearch()
		if aborted {
			return 0, false, busError("onewiregpio: search aborted mid-enumeration")
		}
		// Nothing answered the search command at all. For an alarm search
		// that simply means no device is in alarm state.
		return 0, false, nil
	}
	if !common.CheckCRC(b.rom[:]) {
		b.resetSearch()
		return 0, false, busError("onewiregpio: invalid ROM checksum")
	}
	if b.rom[0] == 0 {
		// No legitimate family code is zero.
		b.resetSearch()
		return 0, false, busError("onewiregpio: invalid family code 0")
	}
	b.lastDiscrepancy = lastZero
	if b.lastDiscrepancy == 0 {
		b.lastDevice = true
	}
	return romToAddress(b.rom), true, nil
}

func (b *Bus) resetSearch() {
	b.lastDiscrepancy = 0
	b.lastFamilyDiscrepancy = 0
	b.lastDevice = false
	b.rom = [8]byte{}
}

var _ onewire.BusSearcher = &Bus{}
