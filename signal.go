// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiregpio

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
)

// Reset issues a reset pulse and returns true if at least one device
// answered with a presence pulse.
//
// The whole call takes roughly one millisecond; on return the bus is idle
// and ready for the next operation.
func (b *Bus) Reset() (bool, error) {
	b.Lock()
	defer b.Unlock()
	return b.reset()
}

// WriteBit emits a single write slot for the least significant bit of bit.
func (b *Bus) WriteBit(bit byte) error {
	b.Lock()
	defer b.Unlock()
	b.writeBit(bit)
	return b.err
}

// ReadBit emits a single read slot and returns the sampled bit, 0 or 1.
func (b *Bus) ReadBit() (byte, error) {
	b.Lock()
	defer b.Unlock()
	bit := b.readBit()
	return bit, b.err
}

// WriteByte writes one byte onto the bus, least significant bit first.
func (b *Bus) WriteByte(data byte) error {
	b.Lock()
	defer b.Unlock()
	b.writeByte(data)
	return b.err
}

// ReadByte reads one byte from the bus, least significant bit first.
func (b *Bus) ReadByte() (byte, error) {
	b.Lock()
	defer b.Unlock()
	data := b.readByte()
	return data, b.err
}

// WriteBytes writes data onto the bus, in order, each byte LSB first.
func (b *Bus) WriteBytes(data []byte) error {
	b.Lock()
	defer b.Unlock()
	b.writeBytes(data)
	return b.err
}

// ReadBytes fills buf with bytes read from the bus.
func (b *Bus) ReadBytes(buf []byte) error {
	b.Lock()
	defer b.Unlock()
	b.readBytes(buf)
	return b.err
}

// Tx implements onewire.Bus. It issues a reset, writes w, reads into r and
// leaves the bus either released or, with onewire.StrongPullup, actively
// driven high to power parasitic devices until the next operation or a call
// to Depower.
func (b *Bus) Tx(w, r []byte, power onewire.Pullup) error {
	b.Lock()
	defer b.Unlock()
	if present, err := b.reset(); err != nil {
		return err
	} else if !present {
		return noDevicesError("onewiregpio: no device present")
	}
	b.writeBytes(w)
	b.readBytes(r)
	if power == onewire.StrongPullup {
		// A plain GPIO has no switchable pull-up strength; driving the line
		// high is the closest equivalent and sources the full pin current.
		b.pinOut(gpio.High)
	}
	return b.err
}

// reset drives the line low for the reset pulse, releases it, samples the
// presence pulse and then waits out the remainder of the reset window.
func (b *Bus) reset() (bool, error) {
	if b.err != nil {
		return false, b.err
	}
	t := &b.opts
	t.Guard.Enter()
	b.pinOut(gpio.Low)
	delay(t.ResetLow)
	b.pinIn()
	delay(t.PresenceDetect)
	// A presence pulse is a device holding the released line low.
	present := b.pinRead() == gpio.Low
	t.Guard.Leave()
	delay(t.PresenceSettle)
	if b.err != nil {
		return false, b.err
	}
	return present, nil
}

// writeBit emits one write slot for the least significant bit of bit. A one
// is a narrow low pulse, a zero holds the line low for most of the slot; the
// devices sample the line around 30μs into the slot.
func (b *Bus) writeBit(bit byte) {
	t := &b.opts
	low := t.Write0Low
	if bit&1 != 0 {
		low = t.Write1Low
	}
	t.Guard.Enter()
	b.pinOut(gpio.Low)
	delay(low)
	b.pinIn()
	delay(t.Slot - low)
	t.Guard.Leave()
	delay(t.Recovery)
}

// readBit emits one read slot: a short low pulse to start the slot, then the
// line is released and sampled before the addressed device stops holding it.
func (b *Bus) readBit() byte {
	t := &b.opts
	t.Guard.Enter()
	b.pinOut(gpio.Low)
	delay(t.ReadLow)
	b.pinIn()
	delay(t.ReadSample)
	var bit byte
	if b.pinRead() == gpio.High {
		bit = 1
	}
	t.Guard.Leave()
	delay(t.Slot - t.ReadLow - t.ReadSample)
	delay(t.Recovery)
	return bit
}

func (b *Bus) writeByte(data byte) {
	for i := 0; i < 8; i++ {
		b.writeBit(data & 1)
		data >>= 1
	}
}

func (b *Bus) readByte() byte {
	var data byte
	for i := 0; i < 8; i++ {
		data >>= 1
		if b.readBit() != 0 {
			data |= 0x80
		}
	}
	return data
}

func (b *Bus) writeBytes(data []byte) {
	for _, d := range data {
		b.writeByte(d)
	}
}

func (b *Bus) readBytes(buf []byte) {
	for i := range buf {
		buf[i] = b.readByte()
	}
}
