// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiregpio

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// simBus is a gpio.PinIO wired to simulated 1-wire slave devices.
//
// Virtual time only advances through the injected delay function, so the
// master's timing decisions are observed exactly as a device would see them:
// a slot starts when the master drives the line low and is classified by how
// long it stayed low. A low time above the reset threshold resets every
// device; at most 15μs is a one (or a read slot, which is electrically
// identical); anything in between is a zero.
type simBus struct {
	num      int
	devices  []*simDevice
	loopback bool // echo written bits back on read slots instead of devices

	now       time.Duration
	driving   bool
	outLevel  gpio.Level
	lowStart  time.Duration
	holdUntil time.Duration // some slave is holding the released line low
	presFrom  time.Duration // presence pulse window
	presUntil time.Duration

	fifo []byte // loopback bit queue, LSB of each entry

	slots        int // bit slots since power-on
	resets       int
	lastResetLow time.Duration
}

const (
	simResetThreshold = 240 * time.Microsecond
	simReadThreshold  = 6 * time.Microsecond
	simOneThreshold   = 15 * time.Microsecond
	simHoldTime       = 30 * time.Microsecond // how long a slave transmitting 0 holds the line
)

func (s *simBus) sleep(d time.Duration) { s.now += d }

func (s *simBus) String() string                 { return s.Name() }
func (s *simBus) Name() string                   { return fmt.Sprintf("SIM%d", s.num) }
func (s *simBus) Number() int                    { return s.num }
func (s *simBus) Function() string               { return "In/Out" }
func (s *simBus) Halt() error                    { return nil }
func (s *simBus) WaitForEdge(time.Duration) bool { return false }
func (s *simBus) Pull() gpio.Pull                { return gpio.Float }
func (s *simBus) DefaultPull() gpio.Pull         { return gpio.Float }
func (s *simBus) PWM(gpio.Duty, physic.Frequency) error {
	return fmt.Errorf("sim: no PWM")
}

func (s *simBus) Out(l gpio.Level) error {
	if l == gpio.Low && (!s.driving || s.outLevel != gpio.Low) {
		s.lowStart = s.now
		for _, d := range s.devices {
			d.slotStart(s)
		}
	}
	s.driving = true
	s.outLevel = l
	return nil
}

func (s *simBus) In(gpio.Pull, gpio.Edge) error {
	if s.driving && s.outLevel == gpio.Low {
		s.release(s.now - s.lowStart)
	}
	s.driving = false
	return nil
}

func (s *simBus) Read() gpio.Level {
	if s.driving {
		return s.outLevel
	}
	if s.now < s.holdUntil {
		return gpio.Low
	}
	if s.now >= s.presFrom && s.now < s.presUntil {
		return gpio.Low
	}
	return gpio.High
}

// release classifies the slot the master just finished driving.
func (s *simBus) release(lowDur time.Duration) {
	if lowDur >= simResetThreshold {
		s.resets++
		s.lastResetLow = lowDur
		s.fifo = nil
		s.holdUntil = 0
		if len(s.devices) > 0 || s.loopback {
			s.presFrom = s.now + 15*time.Microsecond
			s.presUntil = s.now + 100*time.Microsecond
		}
		for _, d := range s.devices {
			d.reset()
		}
		return
	}
	s.slots++
	if s.loopback {
		if lowDur < simReadThreshold {
			bit := byte(1)
			if len(s.fifo) > 0 {
				bit = s.fifo[0]
				s.fifo = s.fifo[1:]
			}
			if bit == 0 {
				s.holdUntil = s.lowStart + simHoldTime
			}
		} else {
			bit := byte(0)
			if lowDur <= simOneThreshold {
				bit = 1
			}
			s.fifo = append(s.fifo, bit)
		}
		return
	}
	bit := byte(0)
	if lowDur <= simOneThreshold {
		bit = 1
	}
	for _, d := range s.devices {
		d.slotEnd(bit)
	}
}

var _ gpio.PinIO = &simBus{}

// simDevice models the ROM function state machine of one 1-wire slave.
type simDevice struct {
	rom   [8]byte
	alarm bool

	state   devState
	dropped bool // out of this bus sequence until the next reset
	cmd     byte
	nbits   int
	phase   int // search triplet phase: bit, complement, direction
}

type devState int

const (
	devIdle devState = iota
	devCommand
	devSearch
	devReadROM
	devMatch
	devSelected
)

func (d *simDevice) romBit(n int) byte {
	return d.rom[n/8] >> (n % 8) & 1
}

func (d *simDevice) reset() {
	d.state = devCommand
	d.dropped = false
	d.cmd = 0
	d.nbits = 0
	d.phase = 0
}

// slotStart runs when the master drives the line low. A device that is
// transmitting a 0 holds the line past the master's release.
func (d *simDevice) slotStart(s *simBus) {
	if d.dropped {
		return
	}
	var bit byte = 1
	switch d.state {
	case devSearch:
		switch d.phase {
		case 0:
			bit = d.romBit(d.nbits)
		case 1:
			bit = d.romBit(d.nbits) ^ 1
		default:
			return
		}
	case devReadROM:
		bit = d.romBit(d.nbits)
	default:
		return
	}
	if bit == 0 {
		hold := s.lowStart + simHoldTime
		if hold > s.holdUntil {
			s.holdUntil = hold
		}
	}
}

// slotEnd consumes the slot the master just completed. bit is what the slot
// looks like to a receiving device; transmit slots arrive as 1.
func (d *simDevice) slotEnd(bit byte) {
	if d.dropped {
		return
	}
	switch d.state {
	case devCommand:
		d.cmd |= bit << d.nbits
		d.nbits++
		if d.nbits < 8 {
			return
		}
		d.nbits = 0
		switch d.cmd {
		case 0xf0:
			d.state = devSearch
		case 0xec:
			if d.alarm {
				d.state = devSearch
			} else {
				d.dropped = true
			}
		case 0x33:
			d.state = devReadROM
		case 0x55:
			d.state = devMatch
		case 0xcc:
			d.state = devSelected
		default:
			d.state = devIdle
		}
	case devSearch:
		switch d.phase {
		case 0, 1:
			d.phase++
		default:
			if bit != d.romBit(d.nbits) {
				d.dropped = true
				return
			}
			d.phase = 0
			d.nbits++
			if d.nbits == 64 {
				d.state = devSelected
			}
		}
	case devReadROM:
		d.nbits++
		if d.nbits == 64 {
			d.state = devSelected
		}
	case devMatch:
		if bit != d.romBit(d.nbits) {
			d.dropped = true
			return
		}
		d.nbits++
		if d.nbits == 64 {
			d.state = devSelected
		}
	}
}
