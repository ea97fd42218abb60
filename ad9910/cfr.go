package ad9910

import "fmt"

// Power-on values of the two control function registers on the FlexDDS
// cards.  These match what the rack firmware programs at boot, so the
// local shadow starts out in sync with the chip.
const (
	CFR1Default = 0x00410002
	CFR2Default = 0x004008C0
)

// Bit positions within CFR1 and CFR2 used by this layer.
const (
	CFR1ClearDRA  = 12 // clear the digital ramp accumulator
	CFR1RAMDest0  = 29 // RAM playback destination, low bit
	CFR1RAMDest1  = 30 // RAM playback destination, high bit
	CFR1RAMEnable = 31

	CFR2FMGain0          = 0 // frequency modulation gain, bits 0..3
	CFR2ParallelPort     = 4 // parallel data port (analog modulation input)
	CFR2DRGEnable        = 19
	CFR2DRGDest0         = 20 // ramp destination, low bit
	CFR2DRGDest1         = 21 // ramp destination, high bit
	CFR2AmpScaleFromSTP0 = 24 // amplitude scale from single tone profile
)

// CFR holds local copies of the two control function registers of one
// channel.  The chip offers no partial writes, so every bit change goes
// through the shadow and the whole word is retransmitted.
type CFR struct {
	words [2]uint32
}

// DefaultCFR returns a shadow initialized to the power-on register values.
func DefaultCFR() CFR {
	return CFR{words: [2]uint32{CFR1Default, CFR2Default}}
}

// SetBit sets or clears one bit of CFR1 (reg 1) or CFR2 (reg 2).
func (c *CFR) SetBit(reg, bit int, on bool) error {
	if reg != 1 && reg != 2 {
		return fmt.Errorf("ad9910: no such control function register CFR%d", reg)
	}
	if bit < 0 || bit > 31 {
		return fmt.Errorf("ad9910: CFR bit index %d outside [0, 31]", bit)
	}
	mask := uint32(1) << bit
	if on {
		c.words[reg-1] |= mask
	} else {
		c.words[reg-1] &^= mask
	}
	return nil
}

// Bit reports the state of one bit of CFR1 or CFR2.
func (c *CFR) Bit(reg, bit int) bool {
	return c.words[reg-1]&(1<<bit) != 0
}

// Word returns the full 32-bit register value for transmission.
func (c *CFR) Word(reg int) uint32 {
	return c.words[reg-1]
}

// Reset restores the shadow to the power-on values.
func (c *CFR) Reset() {
	c.words = [2]uint32{CFR1Default, CFR2Default}
}

// Reg returns the catalog entry for CFR1 or CFR2.
func (c *CFR) Reg(reg int) Register {
	if reg == 1 {
		return CFR1
	}
	return CFR2
}
