package ad9910

import (
	"math"
	"testing"
)

func TestFrequencyRoundTripWithinOneLSB(t *testing.T) {
	freqs := []float64{0, 1, 100e3, 1e6, 80e6, 499.999e6, 999.999999e6}
	for _, f := range freqs {
		ftw, err := FrequencyToFTW(f)
		if err != nil {
			t.Fatalf("FrequencyToFTW(%g): %v", f, err)
		}
		got := FTWToFrequency(ftw)
		if math.Abs(got-f) > FrequencyLSB {
			t.Errorf("round trip of %g Hz gave %g Hz, off by more than one LSB", f, got)
		}
	}
}

func TestFrequencyOutOfRange(t *testing.T) {
	for _, f := range []float64{-1, SysClk, 2 * SysClk} {
		_, err := FrequencyToFTW(f)
		if err == nil {
			t.Errorf("FrequencyToFTW(%g) should have failed", f)
		}
		var re RangeError
		if !asRangeError(err, &re) {
			t.Errorf("FrequencyToFTW(%g) error is not a RangeError: %v", f, err)
		}
	}
}

func asRangeError(err error, re *RangeError) bool {
	e, ok := err.(RangeError)
	if ok {
		*re = e
	}
	return ok
}

func TestAmplitudeRoundTripWithinOneLSB(t *testing.T) {
	amps := []float64{0, 0.001, 0.25, 0.5, 0.9999, 1}
	for _, a := range amps {
		asf, err := AmplitudeToASF(a)
		if err != nil {
			t.Fatalf("AmplitudeToASF(%g): %v", a, err)
		}
		got := ASFToAmplitude(asf)
		if math.Abs(got-a) > AmplitudeLSB {
			t.Errorf("round trip of %g gave %g, off by more than one LSB", a, got)
		}
	}
	if _, err := AmplitudeToASF(1.01); err == nil {
		t.Error("amplitude above full scale should have failed")
	}
	if _, err := AmplitudeToASF(-0.01); err == nil {
		t.Error("negative amplitude should have failed")
	}
}

func TestPhaseRoundTripAndWrap(t *testing.T) {
	phases := []float64{0, 45, 90, 180, 270, 359.9}
	for _, p := range phases {
		got := POWToPhase(PhaseToPOW(p))
		if math.Abs(got-p) > PhaseLSBDegrees {
			t.Errorf("round trip of %g deg gave %g deg", p, got)
		}
	}
	// wrapping: -90 and 270 are the same phase
	if PhaseToPOW(-90) != PhaseToPOW(270) {
		t.Error("-90 deg and 270 deg should encode identically")
	}
	if PhaseToPOW(720) != PhaseToPOW(0) {
		t.Error("720 deg and 0 deg should encode identically")
	}
}

func TestSingleToneProfilePacking(t *testing.T) {
	w := SingleToneProfile(0x3FFF, 0x8000, 0xDEADBEEF)
	if w != 0x3FFF_8000_DEADBEEF {
		t.Errorf("profile word = %#016x", w)
	}
}

func TestRampRegisterPacking(t *testing.T) {
	if RampLimits(0xAAAAAAAA, 0x55555555) != 0xAAAAAAAA_55555555 {
		t.Error("DRL packing wrong")
	}
	if RampStepSize(0x01020304) != 0x01020304_01020304 {
		t.Error("DRSS packing wrong")
	}
	if RampRate(0x00FA) != 0x00FA_00FA {
		t.Error("DRR packing wrong")
	}
}

func TestCFRShadow(t *testing.T) {
	cfr := DefaultCFR()
	if cfr.Word(1) != CFR1Default || cfr.Word(2) != CFR2Default {
		t.Fatal("shadow does not start at power-on values")
	}
	if err := cfr.SetBit(2, CFR2DRGEnable, true); err != nil {
		t.Fatal(err)
	}
	if !cfr.Bit(2, CFR2DRGEnable) {
		t.Error("bit did not set")
	}
	if cfr.Word(1) != CFR1Default {
		t.Error("CFR1 disturbed by CFR2 write")
	}
	if err := cfr.SetBit(2, CFR2DRGEnable, false); err != nil {
		t.Fatal(err)
	}
	if cfr.Word(2) != CFR2Default {
		t.Error("clearing the bit did not restore the default word")
	}
	if err := cfr.SetBit(3, 0, true); err == nil {
		t.Error("CFR3 does not exist, SetBit should fail")
	}
	if err := cfr.SetBit(1, 32, true); err == nil {
		t.Error("bit 32 does not exist, SetBit should fail")
	}
}

func TestRAMSampleRoundTrip(t *testing.T) {
	cases := []struct {
		kind Parameter
		v    float64
		tol  float64
	}{
		{Frequency, 10e6, FrequencyLSB},
		{Phase, 123.4, PhaseLSBDegrees},
		{Amplitude, 0.707, AmplitudeLSB},
	}
	for _, tc := range cases {
		w, err := PackRAMSample(tc.kind, tc.v)
		if err != nil {
			t.Fatalf("PackRAMSample(%v, %g): %v", tc.kind, tc.v, err)
		}
		got, err := UnpackRAMSample(tc.kind, w)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(got-tc.v) > tc.tol {
			t.Errorf("%v sample %g round-tripped to %g", tc.kind, tc.v, got)
		}
	}
	if _, err := PackRAMSample(Polar, 1); err == nil {
		t.Error("polar samples are unsupported and should fail")
	}
}

func TestRAMProfilePacking(t *testing.T) {
	w := RAMProfile(0x00FA, 0, 100, false, RAMModeRampUp)
	want := uint64(0x00FA)<<40 | uint64(100)<<30 | 1
	if w != want {
		t.Errorf("RAMProfile = %#016x, want %#016x", w, want)
	}
}

func TestParameterDestBits(t *testing.T) {
	cases := []struct {
		p        Parameter
		lo, hi   bool
		modeCode int
		modErr   bool
	}{
		{Frequency, false, false, 2, false},
		{Phase, true, false, 1, false},
		{Amplitude, false, true, 0, false},
		{Polar, true, true, 0, true},
	}
	for _, tc := range cases {
		lo, hi := tc.p.DestBits()
		if lo != tc.lo || hi != tc.hi {
			t.Errorf("%v dest bits = %v,%v want %v,%v", tc.p, lo, hi, tc.lo, tc.hi)
		}
		code, err := tc.p.ModCode()
		if tc.modErr {
			if err == nil {
				t.Errorf("%v.ModCode() should fail", tc.p)
			}
			continue
		}
		if err != nil || code != tc.modeCode {
			t.Errorf("%v.ModCode() = %d, %v, want %d", tc.p, code, err, tc.modeCode)
		}
	}
}
