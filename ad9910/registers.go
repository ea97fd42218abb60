package ad9910

// Register describes one write target on the slot's SPI bridge: the
// mnemonic the DCP understands and the exact payload width in bits.
// Payloads must match the declared width; the encoder rejects anything
// wider rather than truncating.
type Register struct {
	Name string
	Bits int
}

// The SPI register catalog.  Widths are authoritative per the AD9910
// datasheet; RAMB/RAM64C/RAM64E are DCP pseudo-registers addressing the
// playback RAM burst interface.
var (
	CFR1 = Register{Name: "CFR1", Bits: 32}
	CFR2 = Register{Name: "CFR2", Bits: 32}
	FTW  = Register{Name: "FTW", Bits: 32}
	POW  = Register{Name: "POW", Bits: 16}
	ASF  = Register{Name: "ASF", Bits: 32}
	STP0 = Register{Name: "stp0", Bits: 64}
	DRL  = Register{Name: "DRL", Bits: 64}
	DRSS = Register{Name: "DRSS", Bits: 64}
	DRR  = Register{Name: "DRR", Bits: 32}

	RAMB   = Register{Name: "RAMB", Bits: 32}
	RAM64C = Register{Name: "RAM64C", Bits: 64}
	RAM64E = Register{Name: "RAM64E", Bits: 64}

	// RAM64EHalf is RAM64E with a 32-bit payload.  A half-width write
	// stores a single RAM word and ends the burst, which is how an
	// odd-length sample buffer is terminated.
	RAM64EHalf = Register{Name: "RAM64E", Bits: 32}
)

// SingleToneProfile packs a single tone profile register (stp0..stp7)
// from its three tuning words: amplitude in the top 14 bits of the upper
// word, then phase, then frequency.
func SingleToneProfile(asf uint16, pow uint16, ftw uint32) uint64 {
	return uint64(asf)<<48 | uint64(pow)<<32 | uint64(ftw)
}

// RampLimits packs the digital ramp limit register from the upper and
// lower 32-bit limit words.
func RampLimits(upper, lower uint32) uint64 {
	return uint64(upper)<<32 | uint64(lower)
}

// RampStepSize packs the digital ramp step size register.  The chip keeps
// separate decrement and increment step words; this layer always programs
// them equal.
func RampStepSize(step uint32) uint64 {
	return uint64(step)<<32 | uint64(step)
}

// RampRate packs the digital ramp rate register from a step interval in
// SyncClk ticks.  Ticks must fit in 16 bits; see the ramp planner.
func RampRate(ticks uint16) uint32 {
	return uint32(ticks)<<16 | uint32(ticks)
}
