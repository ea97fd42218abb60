package flexdds

import (
	"fmt"
	"time"

	"github.com/atomlab/dds/dcp"
)

// RampInfeasibleError reports ramp parameters the digital ramp generator
// cannot realize, with the hardware constraint that was violated.
type RampInfeasibleError struct {
	Start, End float64
	Duration   time.Duration
	Step       float64
	Reason     string
}

func (e RampInfeasibleError) Error() string {
	return fmt.Sprintf("ramp %g -> %g over %v with step %g is infeasible: %s",
		e.Start, e.End, e.Duration, e.Step, e.Reason)
}

// CapacityExceededError reports a waveform buffer longer than the
// usable playback RAM.
type CapacityExceededError struct {
	Samples  int
	Capacity int
}

func (e CapacityExceededError) Error() string {
	return fmt.Sprintf("waveform of %d samples exceeds the %d sample playback capacity",
		e.Samples, e.Capacity)
}

// MissingBreakpointError reports a modulation map without enough
// breakpoints on a selected channel to determine the chip's scale and
// offset parameters.
type MissingBreakpointError struct {
	Channel dcp.Channel
	Have    int
	Need    int
}

func (e MissingBreakpointError) Error() string {
	return fmt.Sprintf("modulation map needs %d breakpoints on channel %d, got %d",
		e.Need, int(e.Channel), e.Have)
}
