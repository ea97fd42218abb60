/*Package flexdds encodes physical-unit operations for a dual-channel DDS
rack into ordered batches of DCP commands.

Each of the rack's six slot cards carries two independent synthesis
channels built on one AD9910 each.  Operations like "emit 80 MHz" or
"sweep amplitude over 5 ms" stage register writes on a per-slot message
stack; nothing reaches the card until Run is called, and nothing affects
the RF output until an update is pulsed.  That double buffering is chip
behavior, not a software convenience, and the client preserves it: the
per-channel state machine goes Idle -> Staged on register writes and
Staged -> Running only on an explicit update.

Before relying on absolute output levels, calibrate the slot's full-scale
amplitude with the front panel trimmer and a spectrum analyzer; relative
amplitudes in [0, 1] scale against that setting.
*/
package flexdds

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/atomlab/dds/ad9910"
	"github.com/atomlab/dds/dcp"
)

const (
	// NumSlots is the number of slot cards in a full rack.
	NumSlots = 6

	// BasePort is the TCP command port of slot 0; slot n listens on
	// BasePort+n.
	BasePort = 26000

	// DefaultRAMCapacity is the usable playback RAM depth in samples.
	// The chip documents 1024 words, but batches beyond roughly this
	// size corrupt playback on the rack (inconsistencies start around
	// 900).  The cause is unknown; treat the ceiling as an observed
	// value and raise Client.RAMCapacity only after verifying on your
	// hardware.
	DefaultRAMCapacity = 512
)

// Pacing of command transmission, in lines per second.  Flushing very
// large batches (RAM programming) at full link speed is suspected in the
// playback corruption noted at DefaultRAMCapacity.
const (
	frameRate  rate.Limit = 2000
	frameBurst            = 256
)

// ChannelState is the sequencer state of one synthesis channel.
type ChannelState int

const (
	// Idle: no staged register writes.
	Idle ChannelState = iota

	// Staged: register writes issued but not yet effective on the output.
	Staged

	// Running: an update committed the staged writes; the chip is
	// executing them.
	Running
)

func (s ChannelState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Staged:
		return "staged"
	case Running:
		return "running"
	}
	return fmt.Sprintf("ChannelState(%d)", int(s))
}

// Transport delivers one rendered command batch to a slot card and
// returns the card's acknowledgement error, if any.  Implementations
// must preserve submission order within a slot; batches for different
// slots may interleave freely.  Errors are propagated to the caller
// unmodified, and this layer never retries.
type Transport interface {
	Send(slot int, payload []byte) error
}

// Slot mirrors the state of one slot card: the staged message stack, the
// local copies of each channel's control function registers, and the
// sequencer state of both channels.  Slots are owned by a Client and are
// not safe for concurrent use from multiple goroutines.
type Slot struct {
	Index int

	stack []dcp.Message
	cfr   [2]ad9910.CFR
	state [2]ChannelState

	// gen invalidates outstanding FilterRamp handles when a channel is
	// reset.
	gen [2]uint64
}

func newSlot(index int) *Slot {
	return &Slot{
		Index: index,
		cfr:   [2]ad9910.CFR{ad9910.DefaultCFR(), ad9910.DefaultCFR()},
	}
}

// push appends a message and advances the sequencer state of the
// channels the message covers.
func (s *Slot) push(m dcp.Message) {
	s.stack = append(s.stack, m)
	switch m.(type) {
	case dcp.SPIWrite, dcp.Write, dcp.Wait:
		s.each(m.Chan(), func(ch int) { s.state[ch] = Staged })
	case dcp.Update:
		s.each(m.Chan(), func(ch int) {
			if s.state[ch] == Staged {
				s.state[ch] = Running
			}
		})
	case dcp.Reset:
		s.each(m.Chan(), func(ch int) { s.state[ch] = Idle })
	}
}

func (s *Slot) each(sel dcp.Channel, f func(ch int)) {
	for ch := 0; ch < 2; ch++ {
		if sel.Covers(dcp.Channel(ch)) {
			f(ch)
		}
	}
}

// widenUpdate rewrites the update at stack index i to cover both
// channels and applies its state transition to both.
func (s *Slot) widenUpdate(i int) {
	u := s.stack[i].(dcp.Update)
	u.Ch = dcp.BothChannels
	s.stack[i] = u
	s.each(dcp.BothChannels, func(ch int) {
		if s.state[ch] == Staged {
			s.state[ch] = Running
		}
	})
}

func (s *Slot) pushCFR(ch dcp.Channel, reg int) error {
	cfr := &s.cfr[int(ch)]
	w, err := dcp.NewSPIWrite(ch, cfr.Reg(reg), uint64(cfr.Word(reg)))
	if err != nil {
		return err
	}
	s.push(w)
	return nil
}

// Client encodes operations for one rack.  The zero value is not usable;
// construct with NewClient or Dial.
//
// A Client is not safe for concurrent use across the same slot; distinct
// slots may be driven from distinct goroutines, as their state is fully
// independent.
type Client struct {
	// MaxAmp is the calibrated full-scale output in dBm, as measured
	// after adjusting the slot front panel trimmer.  It is recorded for
	// operator reference; relative amplitudes are encoded against full
	// scale regardless.
	MaxAmp float64

	// RAMCapacity bounds waveform buffers accepted by
	// PlaybackFromMemory.  Defaults to DefaultRAMCapacity.
	RAMCapacity int

	// Strict promotes quantization losses beyond one LSB from logged
	// warnings to errors.
	Strict bool

	transport Transport
	limiter   *rate.Limiter
	slots     [NumSlots]*Slot
}

// NewClient wraps a Transport.  Use Dial to also open the rack's TCP
// ports and authenticate each slot.
func NewClient(t Transport) *Client {
	c := &Client{
		RAMCapacity: DefaultRAMCapacity,
		transport:   t,
		limiter:     rate.NewLimiter(frameRate, frameBurst),
	}
	for i := range c.slots {
		c.slots[i] = newSlot(i)
	}
	return c
}

func (c *Client) slot(i int) (*Slot, error) {
	if i < 0 || i >= NumSlots {
		return nil, fmt.Errorf("flexdds: slot %d outside [0, %d]", i, NumSlots-1)
	}
	return c.slots[i], nil
}

// slotChannel validates a (slot, channel) pair for per-channel
// operations, which cannot address both channels at once.
func (c *Client) slotChannel(i int, ch dcp.Channel) (*Slot, error) {
	s, err := c.slot(i)
	if err != nil {
		return nil, err
	}
	if ch != dcp.Ch0 && ch != dcp.Ch1 {
		return nil, fmt.Errorf("flexdds: channel must be 0 or 1, got %d", int(ch))
	}
	return s, nil
}

// State reports the sequencer state of one channel.
func (c *Client) State(slot int, ch dcp.Channel) (ChannelState, error) {
	s, err := c.slotChannel(slot, ch)
	if err != nil {
		return Idle, err
	}
	return s.state[int(ch)], nil
}

// Pending returns a copy of the staged, unsent messages for a slot.
func (c *Client) Pending(slot int) ([]dcp.Message, error) {
	s, err := c.slot(slot)
	if err != nil {
		return nil, err
	}
	out := make([]dcp.Message, len(s.stack))
	copy(out, s.stack)
	return out, nil
}

// Push stages an arbitrary message on a slot's stack, for DCP features
// this layer does not model.
func (c *Client) Push(slot int, m dcp.Message) error {
	s, err := c.slot(slot)
	if err != nil {
		return err
	}
	s.push(m)
	return nil
}

// PushUpdate stages an update pulse for a channel so its staged register
// writes take effect on the next Run.  Consecutive updates are not
// stacked: if the channel's most recent instruction is already an
// update, nothing is added, and an update addressed to the other channel
// is widened to cover both instead.
func (c *Client) PushUpdate(slot int, ch dcp.Channel) error {
	s, err := c.slotChannel(slot, ch)
	if err != nil {
		return err
	}
	for i := len(s.stack) - 1; i >= 0; i-- {
		m := s.stack[i]
		u, ok := m.(dcp.Update)
		if !ok {
			if m.Chan().Covers(ch) {
				// the channel's last instruction is not an update
				break
			}
			continue
		}
		if u.Kind != dcp.UpdatePulse && u.Kind != "" {
			// profile or DRCTL manipulation, not a commit
			break
		}
		if !u.Ch.Covers(ch) {
			s.widenUpdate(i)
			return nil
		}
		return nil
	}
	s.push(dcp.Update{Ch: ch, Kind: dcp.UpdatePulse})
	return nil
}

// SingleTone programs a channel to emit one constant tone.  The tone
// starts on the next committed update (see Run).
func (c *Client) SingleTone(slot int, ch dcp.Channel, freqHz, amp, phaseDeg float64) error {
	s, err := c.slotChannel(slot, ch)
	if err != nil {
		return err
	}
	asf, err := ad9910.AmplitudeToASF(amp)
	if err != nil {
		return err
	}
	ftw, err := ad9910.FrequencyToFTW(freqHz)
	if err != nil {
		return err
	}
	pow := ad9910.PhaseToPOW(phaseDeg)

	cfr := &s.cfr[int(ch)]
	// amplitude from the profile word, parallel port off, ramp off
	cfr.SetBit(2, ad9910.CFR2AmpScaleFromSTP0, true)
	cfr.SetBit(2, ad9910.CFR2ParallelPort, false)
	cfr.SetBit(2, ad9910.CFR2DRGEnable, false)
	if err := s.pushCFR(ch, 2); err != nil {
		return err
	}

	w, err := dcp.NewSPIWrite(ch, ad9910.STP0, ad9910.SingleToneProfile(asf, pow, ftw))
	if err != nil {
		return err
	}
	s.push(w)
	return nil
}

// WaitTime stages a fixed delay on a channel.  An update is forced in
// first: without it the chip would sit through the delay and only then
// commit whatever was staged before the wait, which is never what the
// caller means.
func (c *Client) WaitTime(slot int, ch dcp.Channel, d time.Duration) error {
	return c.wait(slot, ch, dcp.After(d), true)
}

// WaitTrigger stages a trigger gate on a channel: the channel's next
// instruction does not begin until one of the gate's events fires or its
// timeout lapses.  As with WaitTime, staged writes are committed before
// the gate unless the stack already ends in an update.
func (c *Client) WaitTrigger(slot int, ch dcp.Channel, gate dcp.Gate) error {
	return c.wait(slot, ch, gate, false)
}

func (c *Client) wait(slot int, ch dcp.Channel, gate dcp.Gate, force bool) error {
	s, err := c.slotChannel(slot, ch)
	if err != nil {
		return err
	}
	w, err := dcp.NewWait(ch, gate)
	if err != nil {
		return err
	}
	needUpdate := force
	if !force {
		if n := len(s.stack); n > 0 {
			_, isUpdate := s.stack[n-1].(dcp.Update)
			needUpdate = !isUpdate
		}
	}
	if needUpdate {
		if err := c.PushUpdate(slot, ch); err != nil {
			return err
		}
	}
	s.push(w)
	return nil
}

// Reset discards a slot's staged messages and local register shadows,
// invalidates any latent filter ramps, returns both channels to Idle,
// and stages the card reset command.  Run must be called to deliver it.
func (c *Client) Reset(slot int) error {
	s, err := c.slot(slot)
	if err != nil {
		return err
	}
	s.stack = s.stack[:0]
	s.cfr[0].Reset()
	s.cfr[1].Reset()
	s.gen[0]++
	s.gen[1]++
	s.state = [2]ChannelState{Idle, Idle}
	s.push(dcp.Reset{Ch: dcp.BothChannels})
	return nil
}

// Run delivers a slot's staged messages to the card.  Unless the stack
// already ends in an update, one covering both channels is appended so
// the batch takes effect; a trailing single-channel update is widened for
// the same reason.  On success the stack is cleared; on a transport
// error it is left in place and the error returned unmodified.
func (c *Client) Run(slot int) error {
	return c.run(slot, false)
}

// RunNoUpdate is Run without the appended update: staged writes are
// delivered but remain uncommitted on the chip.
func (c *Client) RunNoUpdate(slot int) error {
	return c.run(slot, true)
}

func (c *Client) run(slot int, noUpdate bool) error {
	s, err := c.slot(slot)
	if err != nil {
		return err
	}
	if len(s.stack) == 0 {
		log.Printf("flexdds: run on slot %d with nothing staged", slot)
		return nil
	}
	if !noUpdate {
		last := len(s.stack) - 1
		if u, ok := s.stack[last].(dcp.Update); ok {
			if u.Ch != dcp.BothChannels {
				s.widenUpdate(last)
			}
		} else {
			s.push(dcp.Update{Ch: dcp.BothChannels, Kind: dcp.UpdatePulse})
		}
	}
	lines := make([]string, len(s.stack))
	for i, m := range s.stack {
		lines[i] = m.Render()
	}
	c.pace(len(lines))
	if err := c.transport.Send(s.Index, []byte(strings.Join(lines, "\n"))); err != nil {
		return err
	}
	s.stack = s.stack[:0]
	return nil
}

// pace blocks until the rate limiter admits n command lines.
func (c *Client) pace(n int) {
	if c.limiter == nil {
		return
	}
	ctx := context.Background()
	for n > 0 {
		k := n
		if b := c.limiter.Burst(); k > b {
			k = b
		}
		if err := c.limiter.WaitN(ctx, k); err != nil {
			return
		}
		n -= k
	}
}

// clearRampAccumulator zeroes the digital ramp accumulator by strobing
// the CFR1 clear bit across two updates.
func (c *Client) clearRampAccumulator(s *Slot, ch dcp.Channel) error {
	cfr := &s.cfr[int(ch)]
	cfr.SetBit(1, ad9910.CFR1ClearDRA, true)
	if err := s.pushCFR(ch, 1); err != nil {
		return err
	}
	if err := c.PushUpdate(s.Index, ch); err != nil {
		return err
	}
	cfr.SetBit(1, ad9910.CFR1ClearDRA, false)
	if err := s.pushCFR(ch, 1); err != nil {
		return err
	}
	return c.PushUpdate(s.Index, ch)
}

// resolution enforces the quantization tolerance policy: losses within
// tol pass, larger losses are logged, or returned as errors when the
// client is strict.
func (c *Client) resolution(requested, quantized, tol float64, units string) error {
	if math.Abs(requested-quantized) <= tol {
		return nil
	}
	err := ad9910.ResolutionError{Requested: requested, Quantized: quantized, Units: units}
	if c.Strict {
		return err
	}
	log.Printf("flexdds: %v", err)
	return nil
}
