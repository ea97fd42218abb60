package flexdds

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/atomlab/dds/dcp"
)

// captureTransport records batches instead of talking to hardware.
type captureTransport struct {
	batches []string
	fail    error
}

func (t *captureTransport) Send(slot int, payload []byte) error {
	if t.fail != nil {
		return t.fail
	}
	t.batches = append(t.batches, string(payload))
	return nil
}

func newTestClient() (*Client, *captureTransport) {
	tr := &captureTransport{}
	return NewClient(tr), tr
}

func lines(batch string) []string {
	return strings.Split(batch, "\n")
}

func TestSingleToneStagesAndRunCommits(t *testing.T) {
	c, tr := newTestClient()
	if err := c.SingleTone(0, dcp.Ch0, 100e6, 1.0, 0); err != nil {
		t.Fatal(err)
	}
	st, _ := c.State(0, dcp.Ch0)
	if st != Staged {
		t.Errorf("after staging, state = %v, want %v", st, Staged)
	}
	if err := c.Run(0); err != nil {
		t.Fatal(err)
	}
	st, _ = c.State(0, dcp.Ch0)
	if st != Running {
		t.Errorf("after run, state = %v, want %v", st, Running)
	}
	if st, _ := c.State(0, dcp.Ch1); st != Idle {
		t.Errorf("untouched channel left %v, want %v", st, Idle)
	}
	if len(tr.batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(tr.batches))
	}
	got := lines(tr.batches[0])
	if len(got) != 3 {
		t.Fatalf("batch has %d lines, want 3: %q", len(got), got)
	}
	if got[0] != "dcp 0 spi:CFR2=0x014008c0" {
		t.Errorf("CFR2 line = %q", got[0])
	}
	if !strings.HasPrefix(got[1], "dcp 0 spi:stp0=0x") {
		t.Errorf("profile line = %q", got[1])
	}
	if got[2] != "dcp update:u" {
		t.Errorf("trailing update = %q, want dcp update:u", got[2])
	}
	if msgs, _ := c.Pending(0); len(msgs) != 0 {
		t.Errorf("stack not cleared after run, %d messages left", len(msgs))
	}
}

func TestRestagingWithoutUpdateStaysStaged(t *testing.T) {
	c, _ := newTestClient()
	c.SingleTone(1, dcp.Ch1, 10e6, 0.5, 0)
	c.SingleTone(1, dcp.Ch1, 20e6, 0.5, 0)
	if st, _ := c.State(1, dcp.Ch1); st != Staged {
		t.Errorf("state = %v, want %v", st, Staged)
	}
}

func TestRunNoUpdateLeavesUncommitted(t *testing.T) {
	c, tr := newTestClient()
	c.SingleTone(0, dcp.Ch0, 100e6, 1.0, 0)
	if err := c.RunNoUpdate(0); err != nil {
		t.Fatal(err)
	}
	got := lines(tr.batches[0])
	if strings.Contains(got[len(got)-1], "update") {
		t.Errorf("no-update run ended with %q", got[len(got)-1])
	}
	if st, _ := c.State(0, dcp.Ch0); st != Staged {
		t.Errorf("state = %v, want %v", st, Staged)
	}
}

func TestRunWidensTrailingSingleChannelUpdate(t *testing.T) {
	c, tr := newTestClient()
	c.SingleTone(0, dcp.Ch0, 100e6, 1.0, 0)
	c.PushUpdate(0, dcp.Ch0)
	if err := c.Run(0); err != nil {
		t.Fatal(err)
	}
	got := lines(tr.batches[0])
	last := got[len(got)-1]
	if last != "dcp update:u" {
		t.Errorf("trailing update = %q, want widened dcp update:u", last)
	}
	if n := strings.Count(tr.batches[0], "update:u"); n != 1 {
		t.Errorf("got %d updates, want 1", n)
	}
}

func TestPushUpdateDeduplicates(t *testing.T) {
	c, _ := newTestClient()
	c.SingleTone(0, dcp.Ch0, 100e6, 1.0, 0)
	c.PushUpdate(0, dcp.Ch0)
	c.PushUpdate(0, dcp.Ch0)
	msgs, _ := c.Pending(0)
	updates := 0
	for _, m := range msgs {
		if _, ok := m.(dcp.Update); ok {
			updates++
		}
	}
	if updates != 1 {
		t.Errorf("got %d staged updates, want 1", updates)
	}
}

func TestTransportErrorPreservesStack(t *testing.T) {
	c, tr := newTestClient()
	c.SingleTone(0, dcp.Ch0, 100e6, 1.0, 0)
	tr.fail = errors.New("connection reset")
	if err := c.Run(0); err == nil {
		t.Fatal("expected transport error")
	}
	msgs, _ := c.Pending(0)
	if len(msgs) == 0 {
		t.Error("stack was cleared despite failed send")
	}
	tr.fail = nil
	if err := c.Run(0); err != nil {
		t.Fatal(err)
	}
	if msgs, _ := c.Pending(0); len(msgs) != 0 {
		t.Errorf("stack not cleared after successful retry, %d left", len(msgs))
	}
}

func TestWaitTimeForcesUpdateFirst(t *testing.T) {
	c, _ := newTestClient()
	c.SingleTone(0, dcp.Ch0, 100e6, 1.0, 0)
	if err := c.WaitTime(0, dcp.Ch0, 100*time.Microsecond); err != nil {
		t.Fatal(err)
	}
	msgs, _ := c.Pending(0)
	n := len(msgs)
	if _, ok := msgs[n-1].(dcp.Wait); !ok {
		t.Fatalf("last staged message is %T, want Wait", msgs[n-1])
	}
	if _, ok := msgs[n-2].(dcp.Update); !ok {
		t.Errorf("message before wait is %T, want Update", msgs[n-2])
	}
	if got := msgs[n-1].Render(); got != "dcp 0 wait:12500h:" {
		t.Errorf("wait line = %q", got)
	}
}

func TestWaitTriggerSkipsUpdateAfterUpdate(t *testing.T) {
	c, _ := newTestClient()
	c.SingleTone(0, dcp.Ch0, 100e6, 1.0, 0)
	c.PushUpdate(0, dcp.Ch0)
	before, _ := c.Pending(0)
	if err := c.WaitTrigger(0, dcp.Ch0, dcp.On(dcp.BNCInARising)); err != nil {
		t.Fatal(err)
	}
	after, _ := c.Pending(0)
	if len(after) != len(before)+1 {
		t.Errorf("wait after update staged %d messages, want 1", len(after)-len(before))
	}
}

func TestResetDiscardsStagedWork(t *testing.T) {
	c, tr := newTestClient()
	c.SingleTone(2, dcp.Ch0, 100e6, 1.0, 0)
	if err := c.Reset(2); err != nil {
		t.Fatal(err)
	}
	if st, _ := c.State(2, dcp.Ch0); st != Idle {
		t.Errorf("state = %v, want %v", st, Idle)
	}
	msgs, _ := c.Pending(2)
	if len(msgs) != 1 {
		t.Fatalf("stack holds %d messages, want only the reset", len(msgs))
	}
	if got := msgs[0].Render(); got != "dds reset" {
		t.Errorf("reset line = %q", got)
	}
	if err := c.RunNoUpdate(2); err != nil {
		t.Fatal(err)
	}
	if tr.batches[0] != "dds reset" {
		t.Errorf("sent %q", tr.batches[0])
	}
}

func TestSlotAndChannelValidation(t *testing.T) {
	c, _ := newTestClient()
	if err := c.SingleTone(6, dcp.Ch0, 1e6, 1, 0); err == nil {
		t.Error("slot 6 accepted")
	}
	if err := c.SingleTone(0, dcp.BothChannels, 1e6, 1, 0); err == nil {
		t.Error("both-channel single tone accepted")
	}
	if _, err := c.State(-1, dcp.Ch0); err == nil {
		t.Error("slot -1 accepted")
	}
}
