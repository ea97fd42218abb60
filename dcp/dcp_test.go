package dcp

import (
	"testing"
	"time"

	"github.com/atomlab/dds/ad9910"
)

func TestSPIWriteRender(t *testing.T) {
	m, err := NewSPIWrite(Ch0, ad9910.FTW, 0x0A3D70A3)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Render(); got != "dcp 0 spi:FTW=0x0a3d70a3" {
		t.Errorf("render = %q", got)
	}
	m, err = NewSPIWrite(Ch1, ad9910.POW, 0x8000)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Render(); got != "dcp 1 spi:POW=0x8000" {
		t.Errorf("render = %q", got)
	}
}

func TestSPIWriteWidthValidation(t *testing.T) {
	// POW is 16 bits; a 17-bit value must fail, not wrap
	_, err := NewSPIWrite(Ch0, ad9910.POW, 0x10000)
	if err == nil {
		t.Fatal("over-wide payload accepted")
	}
	if _, ok := err.(EncodingError); !ok {
		t.Errorf("error is %T, want EncodingError", err)
	}
	// exactly at the limit is fine
	if _, err := NewSPIWrite(Ch0, ad9910.POW, 0xFFFF); err != nil {
		t.Errorf("full-width payload rejected: %v", err)
	}
}

func TestSPIWriteBurstSuffix(t *testing.T) {
	m, err := NewSPIWrite(Ch0, ad9910.RAMB, 0)
	if err != nil {
		t.Fatal(err)
	}
	m.Cont = true
	if got := m.Render(); got != "dcp 0 spi:RAMB=0x00000000:c" {
		t.Errorf("render = %q", got)
	}
}

func TestUpdateRender(t *testing.T) {
	cases := []struct {
		m    Update
		want string
	}{
		{Update{Ch: Ch0, Kind: UpdatePulse}, "dcp 0 update:u"},
		{Update{Ch: BothChannels, Kind: UpdatePulse}, "dcp update:u"},
		{Update{Ch: Ch1, Kind: UpdatePulseLowDRCTL}, "dcp 1 update:u-d"},
		{Update{Ch: Ch1}, "dcp 1 update:u"}, // zero Kind defaults to a plain pulse
	}
	for _, tc := range cases {
		if got := tc.m.Render(); got != tc.want {
			t.Errorf("render = %q, want %q", got, tc.want)
		}
	}
}

func TestResetAndAuthenticateRender(t *testing.T) {
	if got := (Reset{Ch: BothChannels}).Render(); got != "dds reset" {
		t.Errorf("reset render = %q", got)
	}
	if got := (Reset{Ch: Ch1}).Render(); got != "dds 1 reset" {
		t.Errorf("reset render = %q", got)
	}
	if got := (Authenticate{Slot: 3}).Render(); got != "75f4a4e10dd4b6b3" {
		t.Errorf("auth render = %q", got)
	}
}

func TestWaitTimeEncoding(t *testing.T) {
	// 100 us is under the high-resolution limit: 8 ns units, h suffix
	m, err := NewWait(Ch0, After(100*time.Microsecond))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Render(); got != "dcp 0 wait:12500h:" {
		t.Errorf("render = %q", got)
	}
	// 1 s is over the limit: 1024 ns units, no suffix
	m, err = NewWait(Ch0, After(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Render(); got != "dcp 0 wait:976563:" {
		t.Errorf("render = %q", got)
	}
}

func TestWaitTriggerEncoding(t *testing.T) {
	m, err := NewWait(Ch1, On(BNCInARising, RampOver))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Render(); got != "dcp 1 wait::3,35" {
		t.Errorf("render = %q", got)
	}
	m, err = NewWait(Ch1, On(BNCInBLevel).WithTimeout(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Render(); got != "dcp 1 wait:125000h:8" {
		t.Errorf("render = %q", got)
	}
}

func TestWaitValidation(t *testing.T) {
	if _, err := NewWait(Ch0, Gate{Events: []TriggerEvent{TriggerEvent(99)}}); err == nil {
		t.Error("undefined event code accepted")
	}
	if _, err := NewWait(Ch0, Gate{Timeout: Forever}); err == nil {
		t.Error("gate with nothing to wait for accepted")
	}
}

func TestChannelCovers(t *testing.T) {
	if !BothChannels.Covers(Ch0) || !BothChannels.Covers(Ch1) {
		t.Error("both-channel selector should cover each channel")
	}
	if Ch0.Covers(Ch1) {
		t.Error("channel 0 should not cover channel 1")
	}
	if !Ch1.Covers(Ch1) {
		t.Error("channel should cover itself")
	}
}

func TestTriggerEventNames(t *testing.T) {
	ev, err := ParseTriggerEvent("ram-sweep-over")
	if err != nil || ev != RAMSweepOver {
		t.Errorf("parse = %v, %v", ev, err)
	}
	if _, err := ParseTriggerEvent("bogus"); err == nil {
		t.Error("unknown name accepted")
	}
	if !RAMSweepOver.Valid() || TriggerEvent(99).Valid() {
		t.Error("validity check wrong")
	}
}
