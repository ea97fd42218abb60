/*Package ad9910 provides register definitions and fixed-point unit
conversions for the Analog Devices AD9910 direct digital synthesizer.

The chip encodes every physical quantity as a fixed-width tuning word:
frequency as a 32-bit word scaled by the system clock, phase as a 16-bit
word over one turn, and amplitude as a 14-bit fraction of full scale.
Conversions in this package are pure; they fail with a RangeError when a
value is not representable, and round-trip within one least significant
bit otherwise.

Register addresses and bit widths are taken from the AD9910 datasheet and
are a fixed external contract, not tunable values.
*/
package ad9910

import (
	"fmt"
	"math"
)

const (
	// SysClk is the DDS system clock in Hz.  Output frequencies live in
	// [0, SysClk) and tuning words are scaled against it.
	SysClk = 1e9

	// SyncClk is the clock of the digital ramp and RAM playback timers,
	// SysClk/4.  One timer tick is 4 ns.
	SyncClk = SysClk / 4

	// SyncClkPeriodNs is the duration of one ramp/playback timer tick in
	// nanoseconds.
	SyncClkPeriodNs = 4

	// ASFMax is the largest amplitude scale factor (14 bits, full scale).
	ASFMax = 1<<14 - 1

	// RAMWords is the theoretical capacity of the playback RAM in 32-bit
	// words.  The practically usable capacity is lower, see package
	// flexdds.
	RAMWords = 1024
)

const ftwScale = 1 << 32

// FrequencyLSB is the frequency represented by one least significant bit
// of a frequency tuning word, about 0.23 Hz.
const FrequencyLSB = SysClk / ftwScale

// PhaseLSBDegrees is the phase represented by one LSB of a phase offset
// word.
const PhaseLSBDegrees = 360.0 / (1 << 16)

// AmplitudeLSB is the relative amplitude represented by one LSB of an
// amplitude scale factor.
const AmplitudeLSB = 1.0 / ASFMax

// RangeError indicates a physical value outside the representable range of
// a register.  It is always fatal to the operation that produced it.
type RangeError struct {
	Value     float64
	Units     string
	Low, High float64
}

func (e RangeError) Error() string {
	return fmt.Sprintf("ad9910: %g %s outside representable range [%g, %g)",
		e.Value, e.Units, e.Low, e.High)
}

// ResolutionError indicates a value was quantized with more loss than the
// stated tolerance.  It is a warning-level condition by default; strict
// callers may treat it as fatal.
type ResolutionError struct {
	Requested, Quantized float64
	Units                string
}

func (e ResolutionError) Error() string {
	return fmt.Sprintf("ad9910: %g %s quantized to %g, loss exceeds one LSB",
		e.Requested, e.Units, e.Quantized)
}

// FrequencyToFTW converts a frequency in Hz to a 32-bit frequency tuning
// word.  Frequencies outside [0, SysClk) are not representable.
func FrequencyToFTW(hz float64) (uint32, error) {
	if hz < 0 || hz >= SysClk {
		return 0, RangeError{Value: hz, Units: "Hz", Low: 0, High: SysClk}
	}
	return uint32(math.Round(hz / SysClk * ftwScale)), nil
}

// FTWToFrequency is the inverse of FrequencyToFTW.
func FTWToFrequency(ftw uint32) float64 {
	return float64(ftw) / ftwScale * SysClk
}

// AmplitudeToASF converts a relative amplitude in [0, 1] to a 14-bit
// amplitude scale factor.
func AmplitudeToASF(amp float64) (uint16, error) {
	if amp < 0 || amp > 1 {
		return 0, RangeError{Value: amp, Units: "relative amplitude", Low: 0, High: 1}
	}
	return uint16(math.Round(amp * ASFMax)), nil
}

// ASFToAmplitude is the inverse of AmplitudeToASF.
func ASFToAmplitude(asf uint16) float64 {
	return float64(asf) / ASFMax
}

// PhaseToPOW converts a phase in degrees to a 16-bit phase offset word.
// The phase is wrapped into [0, 360).
func PhaseToPOW(deg float64) uint16 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	w := math.Round(deg / 360 * (1 << 16))
	if w >= 1<<16 { // 360 degrees wraps to zero
		w = 0
	}
	return uint16(w)
}

// POWToPhase is the inverse of PhaseToPOW, returning degrees in [0, 360).
func POWToPhase(pow uint16) float64 {
	return float64(pow) / (1 << 16) * 360
}
