package flexdds

import (
	"errors"
	"strings"
	"testing"

	"github.com/atomlab/dds/ad9910"
	"github.com/atomlab/dds/dcp"
)

func TestAnalogModulationPhaseMap(t *testing.T) {
	c, tr := newTestClient()
	m := VoltageToOutputMap{
		Use:    In0Only,
		Output: ad9910.Phase,
		In0: []Breakpoint{
			{Volt: 0, Out: 0},
			{Volt: 1, Out: 360},
		},
	}
	if err := c.AnalogModulation(0, dcp.Ch0, m); err != nil {
		t.Fatal(err)
	}
	c.RunNoUpdate(0)
	batch := tr.batches[0]

	// 360 deg over the positive half scale: 65536<<12 / 32767 rounds
	// to 0x2000
	for _, want := range []string{
		"wr:AM_S0=0x2000",
		"wr:AM_S1=0x0",
		"wr:AM_O0=0x0",
		"wr:AM_O1=0x0",
		"wr:AM_O=0x0",
		"wr:AM_CFG=0x20000001",
	} {
		if !strings.Contains(batch, want) {
			t.Errorf("batch lacks %s: %q", want, batch)
		}
	}
	// parallel data port enabled
	if !strings.Contains(batch, "spi:CFR2=0x004008d0") {
		t.Errorf("CFR2 parallel port bit not set in %q", batch)
	}
}

func TestAnalogModulationFrequencyGain(t *testing.T) {
	c, tr := newTestClient()
	m := VoltageToOutputMap{
		Use:    In0Only,
		Output: ad9910.Frequency,
		In0: []Breakpoint{
			{Volt: 0, Out: 0},
			{Volt: 1, Out: 100e6},
		},
	}
	if err := c.AnalogModulation(0, dcp.Ch0, m); err != nil {
		t.Fatal(err)
	}
	c.RunNoUpdate(0)
	batch := tr.batches[0]
	// FTW(100 MHz) needs 29 bits, so the FM gain is 13; CFR2 carries
	// the gain nibble alongside the parallel port bit
	if !strings.Contains(batch, "spi:CFR2=0x004008dd") {
		t.Errorf("CFR2 gain/port bits wrong in %q", batch)
	}
	if !strings.Contains(batch, "wr:AM_CFG=0x20000002") {
		t.Errorf("AM_CFG wrong in %q", batch)
	}
}

func TestAnalogModulationBothInputs(t *testing.T) {
	c, tr := newTestClient()
	m := VoltageToOutputMap{
		Use:    BothInputs,
		Output: ad9910.Amplitude,
		In0: []Breakpoint{
			{Volt: 0, Out: 0.5},
			{Volt: 1, Out: 1.0},
		},
		In1: []Breakpoint{
			{Volt: 1, Out: 1.0},
		},
	}
	if err := c.AnalogModulation(0, dcp.Ch1, m); err != nil {
		t.Fatal(err)
	}
	c.RunNoUpdate(0)
	batch := tr.batches[0]
	for _, want := range []string{"dcp 1 wr:AM_S0=", "dcp 1 wr:AM_S1=", "dcp 1 wr:AM_O="} {
		if !strings.Contains(batch, want) {
			t.Errorf("batch lacks %s: %q", want, batch)
		}
	}
}

func TestAnalogModulationMissingBreakpoints(t *testing.T) {
	c, _ := newTestClient()
	var mbe MissingBreakpointError

	err := c.AnalogModulation(0, dcp.Ch0, VoltageToOutputMap{
		Use:    In0Only,
		Output: ad9910.Amplitude,
		In0:    []Breakpoint{{Volt: 0, Out: 0.5}},
	})
	if !errors.As(err, &mbe) {
		t.Fatalf("single-input err = %v, want MissingBreakpointError", err)
	}
	if mbe.Channel != dcp.Ch0 || mbe.Have != 1 || mbe.Need != 2 {
		t.Errorf("error reports channel %d have %d need %d", int(mbe.Channel), mbe.Have, mbe.Need)
	}

	err = c.AnalogModulation(0, dcp.Ch0, VoltageToOutputMap{
		Use:    BothInputs,
		Output: ad9910.Amplitude,
		In0:    []Breakpoint{{Volt: 0, Out: 0.5}},
	})
	if !errors.As(err, &mbe) {
		t.Fatalf("missing in1 err = %v, want MissingBreakpointError", err)
	}
	if mbe.Channel != dcp.Ch1 {
		t.Errorf("error blames channel %d, want 1", int(mbe.Channel))
	}

	// one point per input underdetermines the three parameters
	err = c.AnalogModulation(0, dcp.Ch0, VoltageToOutputMap{
		Use:    BothInputs,
		Output: ad9910.Amplitude,
		In0:    []Breakpoint{{Volt: 0, Out: 0.5}},
		In1:    []Breakpoint{{Volt: 0, Out: 0.5}},
	})
	if !errors.As(err, &mbe) {
		t.Fatalf("underdetermined err = %v, want MissingBreakpointError", err)
	}
}

func TestAnalogModulationRejectsPolarAndBadUse(t *testing.T) {
	c, _ := newTestClient()
	err := c.AnalogModulation(0, dcp.Ch0, VoltageToOutputMap{
		Use:    In0Only,
		Output: ad9910.Polar,
		In0:    []Breakpoint{{0, 0}, {1, 1}},
	})
	if err == nil {
		t.Error("polar modulation accepted")
	}
	err = c.AnalogModulation(0, dcp.Ch0, VoltageToOutputMap{
		Output: ad9910.Amplitude,
		In0:    []Breakpoint{{0, 0}, {1, 1}},
	})
	if err == nil {
		t.Error("zero input selection accepted")
	}
}
