package flexdds

import (
	"fmt"
	"math"
	"time"

	"github.com/atomlab/dds/ad9910"
	"github.com/atomlab/dds/dcp"
)

// rampScale is the full-scale span of the 32-bit ramp accumulator words.
const rampScale = 1 << 32

const (
	minStepInterval = ad9910.SyncClkPeriodNs * time.Nanosecond
	maxIntervalTick = 0xFFFF
)

// RampPlan is a ramp quantized to the digital ramp generator's timing
// grid: StepCount equal steps of StepSize, one every StepInterval.
type RampPlan struct {
	Start, End float64
	Duration   time.Duration

	StepCount    int
	StepSize     float64
	StepInterval time.Duration
}

// Hold reports whether the plan holds a constant value for its duration
// rather than sweeping.
func (p RampPlan) Hold() bool { return p.StepCount == 0 }

// intervalTicks is the step interval in SyncClk periods, as loaded into
// the 16-bit ramp rate register.
func (p RampPlan) intervalTicks() uint16 {
	t := p.StepInterval / minStepInterval
	if t < 1 {
		t = 1
	}
	if t > maxIntervalTick {
		t = maxIntervalTick
	}
	return uint16(t)
}

// PlanRamp fits a linear sweep from start to end over duration, taking
// steps of approximately the requested step, onto the ramp generator's
// grid.  The step interval is quantized to whole SyncClk ticks and the
// step size recomputed so the quantized ramp still lands on end after
// duration.  Equal start and end produce a hold plan.  The interval must
// fit the 16-bit rate register: too many steps make it collapse below
// one tick, too few make it overflow.
func PlanRamp(start, end float64, duration time.Duration, step float64) (RampPlan, error) {
	fail := func(reason string) (RampPlan, error) {
		return RampPlan{}, RampInfeasibleError{
			Start: start, End: end, Duration: duration, Step: step, Reason: reason,
		}
	}
	if duration <= 0 {
		return fail("duration must be positive")
	}
	if start == end {
		return RampPlan{
			Start: start, End: end, Duration: duration,
			StepInterval: minStepInterval,
		}, nil
	}
	if step <= 0 {
		return fail("step must be positive")
	}
	span := math.Abs(end - start)
	raw := float64(duration) * step / span
	ticks := math.Round(raw / float64(minStepInterval))
	if ticks < 1 {
		return fail("step interval is below one SyncClk period; use a larger step or longer duration")
	}
	if ticks > maxIntervalTick {
		return fail("step interval overflows the 16-bit ramp rate register; use a smaller step or shorter duration")
	}
	interval := time.Duration(ticks) * minStepInterval
	count := int(math.Round(float64(duration) / float64(interval)))
	if count < 1 {
		count = 1
	}
	return RampPlan{
		Start: start, End: end, Duration: duration,
		StepCount:    count,
		StepSize:     (end - start) / float64(count),
		StepInterval: interval,
	}, nil
}

// FilterRamp is a handle to a ramp whose registers are programmed but
// whose run trigger has been withheld.  Passing it to
// PlaybackFromMemory starts the ramp in lockstep with waveform playback,
// which the chip then uses as a sliding filter over the played samples.
// A handle is invalidated by a Reset of its slot.
type FilterRamp struct {
	slot int
	ch   dcp.Channel
	kind ad9910.Parameter
	gen  uint64
}

// Kind reports which output parameter the ramp sweeps.
func (f *FilterRamp) Kind() ad9910.Parameter { return f.kind }

func (c *Client) checkFilter(s *Slot, ch dcp.Channel, f *FilterRamp) error {
	if f.slot != s.Index || f.ch != ch {
		return fmt.Errorf("flexdds: filter ramp belongs to slot %d channel %d, not slot %d channel %d",
			f.slot, int(f.ch), s.Index, int(ch))
	}
	if f.gen != s.gen[int(ch)] {
		return fmt.Errorf("flexdds: filter ramp was invalidated by a reset of slot %d", s.Index)
	}
	return nil
}

func (c *Client) newFilter(s *Slot, ch dcp.Channel, kind ad9910.Parameter) *FilterRamp {
	return &FilterRamp{slot: s.Index, ch: ch, kind: kind, gen: s.gen[int(ch)]}
}

// pushRampRegisters stages the three ramp generator registers.
func (s *Slot) pushRampRegisters(ch dcp.Channel, upper, lower, step uint32, ticks uint16) error {
	for _, w := range []struct {
		reg ad9910.Register
		val uint64
	}{
		{ad9910.DRL, ad9910.RampLimits(upper, lower)},
		{ad9910.DRSS, ad9910.RampStepSize(step)},
		{ad9910.DRR, uint64(ad9910.RampRate(ticks))},
	} {
		m, err := dcp.NewSPIWrite(ch, w.reg, w.val)
		if err != nil {
			return err
		}
		s.push(m)
	}
	return nil
}

// enableDRG stages CFR2 with the ramp generator on and aimed at the
// given parameter.
func (s *Slot) enableDRG(ch dcp.Channel, kind ad9910.Parameter) error {
	d0, d1 := kind.DestBits()
	cfr := &s.cfr[int(ch)]
	cfr.SetBit(2, ad9910.CFR2DRGEnable, true)
	cfr.SetBit(2, ad9910.CFR2DRGDest0, d0)
	cfr.SetBit(2, ad9910.CFR2DRGDest1, d1)
	return s.pushCFR(ch, 2)
}

// FrequencyRamp stages a linear frequency sweep from start to end Hz
// over duration, in steps of approximately step Hz, with the given
// relative amplitude and phase offset in degrees riding on the channel's
// tone profile.  The sweep begins when the batch is committed by Run.
//
// The ramp generator only holds its final value on upward sweeps, so a
// downward sweep is encoded as its mirror image about SysClk/2; the DDS
// aliases the mirrored tone back onto the requested one.
//
// With filter set, the sweep's registers are staged but its trigger is
// withheld; the returned handle starts it alongside a memory playback.
// Without filter the returned handle is nil.
func (c *Client) FrequencyRamp(slot int, ch dcp.Channel, start, end, amp, phaseDeg float64, duration time.Duration, step float64, filter bool) (*FilterRamp, error) {
	s, err := c.slotChannel(slot, ch)
	if err != nil {
		return nil, err
	}
	plan, err := PlanRamp(start, end, duration, step)
	if err != nil {
		return nil, err
	}

	ms, me := start, end
	if end < start {
		ms, me = ad9910.SysClk-start, ad9910.SysClk-end
	}
	lower, err := ad9910.FrequencyToFTW(math.Min(ms, me))
	if err != nil {
		return nil, err
	}
	upper, err := ad9910.FrequencyToFTW(math.Max(ms, me))
	if err != nil {
		return nil, err
	}
	stepW, err := ad9910.FrequencyToFTW(math.Abs(plan.StepSize))
	if err != nil {
		return nil, err
	}
	if !plan.Hold() {
		if stepW == 0 {
			return nil, RampInfeasibleError{Start: start, End: end, Duration: duration, Step: step,
				Reason: "frequency step quantizes to zero"}
		}
		if err := c.resolution(math.Abs(plan.StepSize), ad9910.FTWToFrequency(stepW), ad9910.FrequencyLSB, "Hz"); err != nil {
			return nil, err
		}
	}

	if !filter {
		// amplitude and phase come from the tone profile while the
		// ramp generator drives frequency
		if err := c.SingleTone(slot, ch, 0, amp, phaseDeg); err != nil {
			return nil, err
		}
	}
	if err := c.clearRampAccumulator(s, ch); err != nil {
		return nil, err
	}
	if !filter {
		if err := s.enableDRG(ch, ad9910.Frequency); err != nil {
			return nil, err
		}
	}
	if err := s.pushRampRegisters(ch, upper, lower, stepW, plan.intervalTicks()); err != nil {
		return nil, err
	}
	if filter {
		return c.newFilter(s, ch, ad9910.Frequency), nil
	}
	// park at the lower limit, then raise DRCTL to sweep
	s.push(dcp.Update{Ch: ch, Kind: dcp.UpdatePulseLowDRCTL})
	s.push(dcp.Update{Ch: ch, Kind: dcp.UpdatePulseHiDRCTL})
	return nil, nil
}

// AmplitudeRamp stages a linear amplitude sweep between two relative
// amplitudes in [0, 1] at a fixed frequency and phase.  See
// FrequencyRamp for the duration, step, and filter semantics.
//
// The ramp generator cannot park at its upper limit, so a downward sweep
// is preceded by a near-instant upward ramp to the start amplitude and
// then released downward.
func (c *Client) AmplitudeRamp(slot int, ch dcp.Channel, start, end, freqHz, phaseDeg float64, duration time.Duration, step float64, filter bool) (*FilterRamp, error) {
	s, err := c.slotChannel(slot, ch)
	if err != nil {
		return nil, err
	}
	for _, a := range []float64{start, end} {
		if a < 0 || a > 1 {
			return nil, ad9910.RangeError{Value: a, Units: "full scale", Low: 0, High: 1}
		}
	}
	plan, err := PlanRamp(start, end, duration, step)
	if err != nil {
		return nil, err
	}
	stepW := uint32(math.Round(math.Abs(plan.StepSize) * (rampScale - 1)))
	if !plan.Hold() {
		if stepW == 0 {
			return nil, RampInfeasibleError{Start: start, End: end, Duration: duration, Step: step,
				Reason: "amplitude step quantizes to zero"}
		}
		if err := c.resolution(math.Abs(plan.StepSize), float64(stepW)/(rampScale-1), 1.0/(rampScale-1), "full scale"); err != nil {
			return nil, err
		}
	}
	lower := uint32(math.Round(math.Min(start, end) * (rampScale - 1)))
	upper := uint32(math.Round(math.Max(start, end) * (rampScale - 1)))

	down := end < start
	if !filter {
		if err := c.SingleTone(slot, ch, freqHz, 0, phaseDeg); err != nil {
			return nil, err
		}
	}
	if down && !filter {
		// sprint up to the start amplitude so the accumulator sits at
		// the upper limit before the downward release
		if _, err := c.AmplitudeRamp(slot, ch, 0, start, freqHz, phaseDeg, minStepInterval, start, false); err != nil {
			return nil, err
		}
	} else if err := c.clearRampAccumulator(s, ch); err != nil {
		return nil, err
	}
	if !filter {
		if err := s.enableDRG(ch, ad9910.Amplitude); err != nil {
			return nil, err
		}
	}
	if err := s.pushRampRegisters(ch, upper, lower, stepW, plan.intervalTicks()); err != nil {
		return nil, err
	}
	if filter {
		return c.newFilter(s, ch, ad9910.Amplitude), nil
	}
	if down {
		s.push(dcp.Update{Ch: ch, Kind: dcp.UpdatePulse})
		s.push(dcp.Update{Ch: ch, Kind: dcp.UpdateLowDRCTL})
	} else {
		s.push(dcp.Update{Ch: ch, Kind: dcp.UpdatePulseLowDRCTL})
		s.push(dcp.Update{Ch: ch, Kind: dcp.UpdateHiDRCTL})
	}
	return nil, nil
}

// PhaseRamp stages a linear phase sweep between two phase offsets in
// degrees at a fixed frequency and relative amplitude.  Phases wrap
// modulo 360.  See FrequencyRamp for the duration, step, and filter
// semantics, and AmplitudeRamp for the downward pre-ramp.
func (c *Client) PhaseRamp(slot int, ch dcp.Channel, start, end, freqHz, amp float64, duration time.Duration, step float64, filter bool) (*FilterRamp, error) {
	s, err := c.slotChannel(slot, ch)
	if err != nil {
		return nil, err
	}
	plan, err := PlanRamp(start, end, duration, step)
	if err != nil {
		return nil, err
	}
	// normalized turns in [0, 1)
	nStart := math.Mod(math.Mod(start, 360)+360, 360) / 360
	nEnd := math.Mod(math.Mod(end, 360)+360, 360) / 360
	if nStart == nEnd && start != end {
		return nil, RampInfeasibleError{Start: start, End: end, Duration: duration, Step: step,
			Reason: "start and end phases are congruent modulo 360"}
	}
	stepW := uint32(math.Round(math.Abs(plan.StepSize) / 360 * rampScale))
	if !plan.Hold() {
		if stepW == 0 {
			return nil, RampInfeasibleError{Start: start, End: end, Duration: duration, Step: step,
				Reason: "phase step quantizes to zero"}
		}
		if err := c.resolution(math.Abs(plan.StepSize), float64(stepW)/rampScale*360, 360.0/rampScale, "deg"); err != nil {
			return nil, err
		}
	}
	lower := phaseWord(math.Min(nStart, nEnd))
	upper := phaseWord(math.Max(nStart, nEnd))

	down := nEnd < nStart
	if !filter {
		if err := c.SingleTone(slot, ch, freqHz, amp, 0); err != nil {
			return nil, err
		}
	}
	if down && !filter {
		if _, err := c.PhaseRamp(slot, ch, 0, nStart*360, freqHz, amp, minStepInterval, nStart*360, false); err != nil {
			return nil, err
		}
	} else if err := c.clearRampAccumulator(s, ch); err != nil {
		return nil, err
	}
	if !filter {
		if err := s.enableDRG(ch, ad9910.Phase); err != nil {
			return nil, err
		}
	}
	if err := s.pushRampRegisters(ch, upper, lower, stepW, plan.intervalTicks()); err != nil {
		return nil, err
	}
	if filter {
		return c.newFilter(s, ch, ad9910.Phase), nil
	}
	if down {
		s.push(dcp.Update{Ch: ch, Kind: dcp.UpdatePulse})
		s.push(dcp.Update{Ch: ch, Kind: dcp.UpdateLowDRCTL})
	} else {
		s.push(dcp.Update{Ch: ch, Kind: dcp.UpdatePulseLowDRCTL})
		s.push(dcp.Update{Ch: ch, Kind: dcp.UpdateHiDRCTL})
	}
	return nil, nil
}

// phaseWord scales a normalized phase in [0, 1) to the 32-bit ramp
// accumulator.
func phaseWord(turns float64) uint32 {
	w := math.Round(turns * rampScale)
	if w >= rampScale {
		w = rampScale - 1
	}
	return uint32(w)
}
