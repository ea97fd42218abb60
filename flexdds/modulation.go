package flexdds

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/atomlab/dds/ad9910"
	"github.com/atomlab/dds/dcp"
)

// ModChannels selects which of a slot's two analog inputs drive the
// modulation.
type ModChannels int

const (
	In0Only ModChannels = iota + 1
	In1Only
	BothInputs
)

func (m ModChannels) String() string {
	switch m {
	case In0Only:
		return "input 0"
	case In1Only:
		return "input 1"
	case BothInputs:
		return "both inputs"
	}
	return fmt.Sprintf("ModChannels(%d)", int(m))
}

// Breakpoint pins one point of the voltage-to-output map: at input
// voltage Volt (as a fraction of the ADC's full scale, in [-1, 1)) the
// channel emits Out, in the map's output units.
type Breakpoint struct {
	Volt float64 `json:"volt"`
	Out  float64 `json:"out"`
}

// VoltageToOutputMap describes how a channel's output parameter follows
// the slot's analog inputs.  The chip realizes the map as a global
// linear combination, out = s0*v0 + s1*v1 + offset; the breakpoints are
// fitted to that plane in the least-squares sense, so maps that pin more
// points than the three parameters can satisfy are approximated, not
// honored exactly.
type VoltageToOutputMap struct {
	Use    ModChannels
	Output ad9910.Parameter

	// In0 and In1 hold the breakpoints for the respective analog
	// input.  A single-input map needs at least two breakpoints on its
	// input and ignores the other; a both-input map needs at least one
	// on each and three in total.
	In0, In1 []Breakpoint
}

func (m VoltageToOutputMap) validate() error {
	switch m.Use {
	case In0Only:
		if len(m.In0) < 2 {
			return MissingBreakpointError{Channel: dcp.Ch0, Have: len(m.In0), Need: 2}
		}
	case In1Only:
		if len(m.In1) < 2 {
			return MissingBreakpointError{Channel: dcp.Ch1, Have: len(m.In1), Need: 2}
		}
	case BothInputs:
		if len(m.In0) < 1 {
			return MissingBreakpointError{Channel: dcp.Ch0, Have: 0, Need: 1}
		}
		if len(m.In1) < 1 {
			return MissingBreakpointError{Channel: dcp.Ch1, Have: 0, Need: 1}
		}
		if len(m.In0)+len(m.In1) < 3 {
			ch, have := dcp.Ch0, len(m.In0)
			if len(m.In1) < len(m.In0) {
				ch, have = dcp.Ch1, len(m.In1)
			}
			return MissingBreakpointError{Channel: ch, Have: have, Need: 2}
		}
	default:
		return fmt.Errorf("flexdds: modulation input selection %v is invalid", m.Use)
	}
	if !m.Output.Valid() || m.Output == ad9910.Polar {
		return fmt.Errorf("flexdds: modulation output %v is not supported", m.Output)
	}
	return nil
}

// voltWord scales a full-scale input fraction to the ADC's signed
// 16-bit sample word.
func voltWord(v float64) float64 {
	if v < 0 {
		return v * (1 << 15)
	}
	return v * (1<<15 - 1)
}

// fmGain picks the smallest frequency modulation gain whose shifted
// words still reach the map's largest frequency.
func fmGain(m VoltageToOutputMap) (int, error) {
	var max float64
	for _, bp := range append(append([]Breakpoint{}, m.In0...), m.In1...) {
		max = math.Max(max, bp.Out)
	}
	ftw, err := ad9910.FrequencyToFTW(max)
	if err != nil {
		return 0, err
	}
	if ftw == 0 {
		return 0, fmt.Errorf("flexdds: frequency modulation map needs a nonzero maximum frequency")
	}
	gain := int(math.Ceil(math.Log2(float64(ftw)))) - 16
	if gain < 0 {
		gain = 0
	}
	if gain > 15 {
		gain = 15
	}
	return gain, nil
}

// outWord converts one breakpoint output to the word the parallel data
// port adds into the parameter, less the port's fixed 2^12 gain.
func outWord(kind ad9910.Parameter, out float64, gain int) (float64, error) {
	switch kind {
	case ad9910.Frequency:
		ftw, err := ad9910.FrequencyToFTW(out)
		if err != nil {
			return 0, err
		}
		return float64(ftw >> uint(gain)), nil
	case ad9910.Phase:
		return math.Round(out / 360 * (1 << 16)), nil
	case ad9910.Amplitude:
		asf, err := ad9910.AmplitudeToASF(out)
		if err != nil {
			return 0, err
		}
		return float64(asf << 2), nil
	}
	return 0, fmt.Errorf("flexdds: modulation output %v is not supported", kind)
}

// AnalogModulation programs a channel's output parameter to follow the
// slot's analog inputs according to the given map.  The fitted scale
// and offset words are staged along with the parallel data port enable;
// modulation starts once the batch is committed by Run.
func (c *Client) AnalogModulation(slot int, ch dcp.Channel, m VoltageToOutputMap) error {
	s, err := c.slotChannel(slot, ch)
	if err != nil {
		return err
	}
	if err := m.validate(); err != nil {
		return err
	}

	gain := 0
	if m.Output == ad9910.Frequency {
		if gain, err = fmGain(m); err != nil {
			return err
		}
	}

	// one row per breakpoint: [v0, v1, 1] * [s0, s1, off]^T = out<<12.
	// Single-input maps drop the unused scale column.
	type row struct {
		v   float64
		in1 bool
		out float64
	}
	var rows []row
	for _, bp := range m.In0 {
		if m.Use == In0Only || m.Use == BothInputs {
			w, err := outWord(m.Output, bp.Out, gain)
			if err != nil {
				return err
			}
			rows = append(rows, row{v: voltWord(bp.Volt), out: w * (1 << 12)})
		}
	}
	for _, bp := range m.In1 {
		if m.Use == In1Only || m.Use == BothInputs {
			w, err := outWord(m.Output, bp.Out, gain)
			if err != nil {
				return err
			}
			rows = append(rows, row{v: voltWord(bp.Volt), in1: true, out: w * (1 << 12)})
		}
	}

	cols := 2
	if m.Use == BothInputs {
		cols = 3
	}
	a := mat.NewDense(len(rows), cols, nil)
	b := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		switch {
		case m.Use != BothInputs:
			a.Set(i, 0, r.v)
			a.Set(i, 1, 1)
		case r.in1:
			a.Set(i, 1, r.v)
			a.Set(i, 2, 1)
		default:
			a.Set(i, 0, r.v)
			a.Set(i, 2, 1)
		}
		b.SetVec(i, r.out)
	}
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return fmt.Errorf("flexdds: modulation map is degenerate: %w", err)
	}

	var s0, s1, off float64
	switch m.Use {
	case In0Only:
		s0, off = x.AtVec(0), x.AtVec(1)
	case In1Only:
		s1, off = x.AtVec(0), x.AtVec(1)
	case BothInputs:
		s0, s1, off = x.AtVec(0), x.AtVec(1), x.AtVec(2)
	}
	// the offset register carries output units, not the <<12 row scale
	off /= 1 << 12

	cfr := &s.cfr[int(ch)]
	if m.Output == ad9910.Frequency {
		for bit := 0; bit < 4; bit++ {
			cfr.SetBit(2, ad9910.CFR2FMGain0+bit, gain&(1<<bit) != 0)
		}
	}
	cfr.SetBit(2, ad9910.CFR2ParallelPort, true)
	if err := s.pushCFR(ch, 2); err != nil {
		return err
	}

	code, err := m.Output.ModCode()
	if err != nil {
		return err
	}
	for _, w := range []struct {
		name string
		val  int64
	}{
		{"AM_S0", int64(math.Round(s0))},
		{"AM_S1", int64(math.Round(s1))},
		{"AM_O0", 0},
		{"AM_O1", 0},
		{"AM_O", int64(math.Round(off))},
		{"AM_CFG", int64(code) | 1<<29},
	} {
		s.push(dcp.Write{Ch: ch, Name: w.name, Value: w.val})
	}
	return c.PushUpdate(slot, ch)
}
