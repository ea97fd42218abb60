package flexdds

import (
	"fmt"
	"math"
	"time"

	"github.com/atomlab/dds/ad9910"
	"github.com/atomlab/dds/dcp"
)

// PlaybackFromMemory stages an arbitrary waveform for looped playback
// from the chip's sample RAM.  samples are values of the chosen
// parameter: Hz for Frequency, degrees for Phase, relative [0, 1] for
// Amplitude.  The buffer is played uniformly over window, each sample
// dwelling window/len(samples), and loops until the channel is
// reprogrammed.  The carrier arguments set the tone parameters the RAM
// does not drive.
//
// A FilterRamp staged earlier on the same channel may be passed to start
// its sweep in lockstep with playback; nil plays the buffer alone.
//
// Parameters are validated and every sample converted before any
// command is staged, so a failed call leaves the slot's stack untouched.
func (c *Client) PlaybackFromMemory(slot int, ch dcp.Channel, kind ad9910.Parameter, samples []float64, carrierFreqHz, carrierAmp, carrierPhaseDeg float64, window time.Duration, filter *FilterRamp) error {
	s, err := c.slotChannel(slot, ch)
	if err != nil {
		return err
	}
	if !kind.Valid() || kind == ad9910.Polar {
		return fmt.Errorf("flexdds: playback parameter %v is not supported", kind)
	}
	n := len(samples)
	if n == 0 {
		return fmt.Errorf("flexdds: empty waveform")
	}
	if n > c.RAMCapacity {
		return CapacityExceededError{Samples: n, Capacity: c.RAMCapacity}
	}
	if window <= 0 {
		return fmt.Errorf("flexdds: playback window must be positive, got %v", window)
	}
	if filter != nil {
		if err := c.checkFilter(s, ch, filter); err != nil {
			return err
		}
	}

	dwell := window / time.Duration(n)
	ticks := math.Round(float64(dwell) / float64(minStepInterval))
	if ticks < 1 {
		return fmt.Errorf("flexdds: per-sample dwell %v is below one SyncClk period", dwell)
	}
	if ticks > maxIntervalTick {
		ticks = maxIntervalTick
		got := time.Duration(ticks) * minStepInterval
		if err := c.resolution(dwell.Seconds(), got.Seconds(), 0, "s dwell"); err != nil {
			return err
		}
	}

	ftw, err := ad9910.FrequencyToFTW(carrierFreqHz)
	if err != nil {
		return err
	}
	asf, err := ad9910.AmplitudeToASF(carrierAmp)
	if err != nil {
		return err
	}
	pow := ad9910.PhaseToPOW(carrierPhaseDeg)

	// convert the full buffer up front; nothing is staged on failure
	words := make([]uint32, n)
	for i, v := range samples {
		w, err := ad9910.PackRAMSample(kind, v)
		if err != nil {
			return err
		}
		words[i] = w
	}

	stage := func(reg ad9910.Register, val uint64, cont bool) error {
		m, err := dcp.NewSPIWrite(ch, reg, val)
		if err != nil {
			return err
		}
		m.Cont = cont
		s.push(m)
		return nil
	}

	// carrier parameters not driven by the RAM
	if err := stage(ad9910.FTW, uint64(ftw), false); err != nil {
		return err
	}
	if err := stage(ad9910.ASF, uint64(asf)<<2, false); err != nil {
		return err
	}
	if err := stage(ad9910.POW, uint64(pow), false); err != nil {
		return err
	}

	// profile 0 spans the whole buffer in ramp-up mode; latch it by
	// toggling through profile 1
	if err := stage(ad9910.STP0, ad9910.RAMProfile(uint16(ticks), 0, n, false, ad9910.RAMModeRampUp), false); err != nil {
		return err
	}
	s.push(dcp.Update{Ch: ch, Kind: dcp.UpdateProfile1})
	s.push(dcp.Update{Ch: ch, Kind: dcp.UpdateProfile0})

	cfr := &s.cfr[int(ch)]
	d0, d1 := kind.DestBits()
	cfr.SetBit(1, ad9910.CFR1RAMDest0, d0)
	cfr.SetBit(1, ad9910.CFR1RAMDest1, d1)
	cfr.SetBit(1, ad9910.CFR1RAMEnable, true)
	if err := s.pushCFR(ch, 1); err != nil {
		return err
	}
	if filter != nil {
		if err := s.enableDRG(ch, filter.kind); err != nil {
			return err
		}
	}

	// the chip plays RAM back to front, so the buffer is written
	// reversed, two words per burst line
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
	if err := stage(ad9910.RAMB, 0, true); err != nil {
		return err
	}
	for i := 0; i < n/2; i++ {
		v := uint64(words[2*i])<<32 | uint64(words[2*i+1])
		if i == n/2-1 && n%2 == 0 {
			if err := stage(ad9910.RAM64E, v, false); err != nil {
				return err
			}
		} else if err := stage(ad9910.RAM64C, v, true); err != nil {
			return err
		}
	}
	if n%2 == 1 {
		// odd tail: a half-width write stores the last word and ends
		// the burst
		if err := stage(ad9910.RAM64EHalf, uint64(words[n-1]), false); err != nil {
			return err
		}
	}
	return c.PushUpdate(slot, ch)
}
