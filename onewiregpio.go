// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiregpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
)

// MaxBuses is the maximum number of buses that can be open at the same time,
// one per GPIO pin.
const MaxBuses = 4

// Guard masks asynchronous preemption around a timing critical bus sequence.
//
// On bare metal runtimes an implementation typically disables and re-enables
// interrupt delivery. Enter and Leave are always called in pairs, Leave on
// every exit path, so an implementation never stays entered across calls.
type Guard interface {
	Enter()
	Leave()
}

// noGuard is used when the caller does not supply a Guard.
type noGuard struct{}

func (noGuard) Enter() {}
func (noGuard) Leave() {}

// Opts contains options to pass to the constructor.
//
// The timing fields are the standard-speed slot budget from the Dallas/Maxim
// timing specification. Devices tolerate a range around each nominal value;
// adjust only for marginal wiring or overdrive-incapable clones.
type Opts struct {
	Pull  gpio.Pull // pull applied when the line is released; Float needs an external pull-up
	Guard Guard     // critical section around each slot; nil for none

	ResetLow       time.Duration // reset pulse low time, 480μs..960μs
	PresenceDetect time.Duration // wait after release before sampling presence, 60μs..75μs
	PresenceSettle time.Duration // remainder of the reset window after the sample
	Slot           time.Duration // total read/write time slot, 60μs..120μs
	Write0Low      time.Duration // write zero low time, 60μs..120μs
	Write1Low      time.Duration // write one low time, 1μs..15μs
	ReadLow        time.Duration // read slot initiation low time, 1μs..15μs
	ReadSample     time.Duration // wait after release before sampling a read, 9μs..15μs
	Recovery       time.Duration // inter-slot recovery time, 1μs minimum
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Pull:           gpio.Float,
	ResetLow:       480 * time.Microsecond,
	PresenceDetect: 70 * time.Microsecond,
	PresenceSettle: 410 * time.Microsecond,
	Slot:           65 * time.Microsecond,
	Write0Low:      60 * time.Microsecond,
	Write1Low:      10 * time.Microsecond,
	ReadLow:        3 * time.Microsecond,
	ReadSample:     10 * time.Microsecond,
	Recovery:       1 * time.Microsecond,
}

// New returns the bus driven on the given GPIO pin, opening it on first use.
//
// New is idempotent: asking for a pin that already has an open bus returns
// the existing bus and ignores opts. At most MaxBuses buses can be open at
// the same time. opts may be nil to use DefaultOpts.
//
// The pin is configured as a high-impedance input; the data line must be
// pulled up to VCC externally unless opts selects an internal pull-up.
func New(p gpio.PinIO, opts *Opts) (*Bus, error) {
	if p == nil {
		return nil, errors.New("onewiregpio: pin is required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	for _, b := range buses {
		if b.p.Number() == p.Number() {
			return b, nil
		}
	}
	if len(buses) >= MaxBuses {
		return nil, errors.New("onewiregpio: too many buses")
	}
	b := &Bus{p: p, opts: *opts}
	if b.opts.Guard == nil {
		b.opts.Guard = noGuard{}
	}
	// Idle state: released line, external (or internal) pull-up keeps it high.
	if err := p.In(b.opts.Pull, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("onewiregpio: failed to configure %s: %w", p, err)
	}
	buses = append(buses, b)
	return b, nil
}

// ByPin returns the open bus on the GPIO pin with the given number.
func ByPin(number int) (*Bus, error) {
	mu.Lock()
	defer mu.Unlock()
	for _, b := range buses {
		if b.p.Number() == number {
			return b, nil
		}
	}
	return nil, fmt.Errorf("onewiregpio: no bus open on pin %d", number)
}

var (
	mu    sync.Mutex
	buses []*Bus
)

// Bus is an open 1-wire bus on a GPIO pin. It implements onewire.Bus.
//
// Bus implements a persistent error model for the underlying pin: if a gpio
// call fails the Bus latches the error and immediately returns it on all
// subsequent calls, since half-finished slots leave the devices in an
// unknown protocol state. Conditions on the 1-wire side (no presence pulse,
// a failed checksum, an aborted search) are returned as onewire.BusError
// values and do not latch.
//
// All methods serialize on an internal lock, but the search state spans
// calls: interleaving SearchNext with other traffic on the same bus desyncs
// the enumeration, so callers must sequence a full search themselves.
type Bus struct {
	sync.Mutex
	p    gpio.PinIO
	opts Opts
	err  error // persistent pin error

	// ROM search progress, per Maxim AN187. rom holds the address found by
	// the last SearchNext, low byte first (family code first on the wire).
	rom                   [8]byte
	lastDiscrepancy       int
	lastFamilyDiscrepancy int
	lastDevice            bool
}

func (b *Bus) String() string {
	return fmt.Sprintf("onewiregpio{%s}", b.p)
}

// Q implements onewire.Pins, returning the data line.
func (b *Bus) Q() gpio.PinIO {
	return b.p
}

// Halt implements conn.Resource. It releases the data line.
func (b *Bus) Halt() error {
	return b.Depower()
}

// Depower releases the line back to high-impedance input after a strong
// pull-up period, letting the passive pull-up take over.
func (b *Bus) Depower() error {
	b.Lock()
	defer b.Unlock()
	if b.err != nil {
		return b.err
	}
	b.pinIn()
	return b.err
}

func (o *Opts) validate() error {
	switch {
	case o.ResetLow <= o.PresenceDetect,
		o.Slot <= o.Write0Low,
		o.Slot <= o.Write1Low,
		o.Slot <= o.ReadLow+o.ReadSample,
		o.Write1Low <= 0, o.ReadLow <= 0, o.Recovery <= 0:
		return errors.New("onewiregpio: invalid timing configuration")
	}
	return nil
}

// pinOut drives the line, pinIn releases it, pinRead samples it. All three
// no-op once the persistent error is latched, so timing critical sequences
// stay straight-line code.
func (b *Bus) pinOut(l gpio.Level) {
	if b.err != nil {
		return
	}
	b.err = b.p.Out(l)
}

func (b *Bus) pinIn() {
	if b.err != nil {
		return
	}
	b.err = b.p.In(b.opts.Pull, gpio.NoEdge)
}

func (b *Bus) pinRead() gpio.Level {
	if b.err != nil {
		return gpio.Low
	}
	return b.p.Read()
}

// busyWait spins on the monotonic clock. time.Sleep cannot be trusted here:
// the scheduler routinely oversleeps by more than a whole time slot.
func busyWait(d time.Duration) {
	start := time.Now()
	for time.Since(start) < d {
	}
}

var delay = busyWait

// noDevicesError implements error and onewire.NoDevicesError.
type noDevicesError string

func (e noDevicesError) Error() string   { return string(e) }
func (e noDevicesError) NoDevices() bool { return true }
func (e noDevicesError) BusError() bool  { return true }

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var _ conn.Resource = &Bus{}
var _ onewire.Bus = &Bus{}
var _ onewire.Pins = &Bus{}
