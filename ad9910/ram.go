package ad9910

import "fmt"

// Parameter identifies the physical quantity a tuning word drives.  It
// selects both the RAM playback destination (CFR1 bits 29/30) and the
// digital ramp destination (CFR2 bits 20/21); the two encodings agree.
type Parameter int

const (
	Frequency Parameter = iota
	Phase
	Amplitude
	// Polar drives phase and amplitude from one RAM word.  The encoder
	// does not support it; it is listed so the enum is closed over what
	// the chip defines.
	Polar
)

func (p Parameter) String() string {
	switch p {
	case Frequency:
		return "frequency"
	case Phase:
		return "phase"
	case Amplitude:
		return "amplitude"
	case Polar:
		return "polar"
	}
	return fmt.Sprintf("Parameter(%d)", int(p))
}

// Valid reports whether p is one of the defined parameter kinds.
func (p Parameter) Valid() bool {
	return p >= Frequency && p <= Polar
}

// DestBits returns the two destination select bits (low, high) for p.
func (p Parameter) DestBits() (bool, bool) {
	return p&1 != 0, p&2 != 0
}

// ModCode returns the analog modulation type code for the AM_CFG register:
// amplitude 0, phase 1, frequency 2.  The modulation encoding is not the
// same as the destination-select encoding.
func (p Parameter) ModCode() (int, error) {
	switch p {
	case Amplitude:
		return 0, nil
	case Phase:
		return 1, nil
	case Frequency:
		return 2, nil
	}
	return 0, fmt.Errorf("ad9910: %v cannot be analog-modulated", p)
}

// PackRAMSample converts one physical sample to its 32-bit RAM word.  The
// tuning word sits at a kind-specific offset within the word: frequency
// fills all 32 bits, phase occupies the top 16, amplitude the top 14.
func PackRAMSample(kind Parameter, v float64) (uint32, error) {
	switch kind {
	case Frequency:
		return FrequencyToFTW(v)
	case Phase:
		return uint32(PhaseToPOW(v)) << 16, nil
	case Amplitude:
		asf, err := AmplitudeToASF(v)
		if err != nil {
			return 0, err
		}
		return uint32(asf) << 18, nil
	case Polar:
		return 0, fmt.Errorf("ad9910: polar RAM samples are not supported")
	}
	return 0, fmt.Errorf("ad9910: invalid RAM parameter kind %d", int(kind))
}

// UnpackRAMSample is the inverse of PackRAMSample, for verification.
func UnpackRAMSample(kind Parameter, w uint32) (float64, error) {
	switch kind {
	case Frequency:
		return FTWToFrequency(w), nil
	case Phase:
		return POWToPhase(uint16(w >> 16)), nil
	case Amplitude:
		return ASFToAmplitude(uint16(w >> 18)), nil
	}
	return 0, fmt.Errorf("ad9910: invalid RAM parameter kind %d", int(kind))
}

// RAM playback modes (profile register mode control field).
const (
	RAMModeDirectSwitch = 0
	RAMModeRampUp       = 1
)

// RAMProfile packs a RAM profile register: playback step rate in SyncClk
// ticks, the word address range, the no-dwell-high flag and the mode
// control field.
func RAMProfile(stepTicks uint16, startAddr, endAddr int, noDwell bool, mode int) uint64 {
	w := uint64(stepTicks) << 40
	w |= uint64(endAddr) << 30
	w |= uint64(startAddr) << 14
	if noDwell {
		w |= 1 << 5
	}
	w |= uint64(mode)
	return w
}
