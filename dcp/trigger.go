package dcp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TriggerEvent is one hardware condition a channel's instruction stream
// can be parked behind.  The values are the DCP's own event codes and are
// a fixed contract with the rack firmware.
type TriggerEvent int

const (
	EventNone TriggerEvent = 0

	// AllSPIFIFOsFlushed fires when the SPI FIFOs into both channels'
	// chips are empty.
	AllSPIFIFOsFlushed TriggerEvent = 2

	BNCInARising  TriggerEvent = 3
	BNCInAFalling TriggerEvent = 4
	BNCInALevel   TriggerEvent = 5
	BNCInBRising  TriggerEvent = 6
	BNCInBFalling TriggerEvent = 7
	BNCInBLevel   TriggerEvent = 8
	BNCInCRising  TriggerEvent = 9
	BNCInCFalling TriggerEvent = 10
	BNCInCLevel   TriggerEvent = 11

	// Backplane triggers exist only on the rack version.
	BackplaneTrigA TriggerEvent = 15
	BackplaneTrigB TriggerEvent = 16

	// Same-channel events.
	SPIFIFOFlushed TriggerEvent = 32
	SPIFIFOEv0     TriggerEvent = 33
	SPIFIFOEv1     TriggerEvent = 34
	RampOver       TriggerEvent = 35 // DROVER pin, digital ramp complete
	RAMSweepOver   TriggerEvent = 36 // RAM SWP OVR pin, playback complete

	// Other-channel variants of the same-channel events.
	OtherSPIFIFOFlushed TriggerEvent = 48
	OtherSPIFIFOEv0     TriggerEvent = 49
	OtherSPIFIFOEv1     TriggerEvent = 50
	OtherRampOver       TriggerEvent = 51
	OtherRAMSweepOver   TriggerEvent = 52
)

var eventNames = map[TriggerEvent]string{
	EventNone:           "none",
	AllSPIFIFOsFlushed:  "all-spi-fifos-flushed",
	BNCInARising:        "bnc-a-rising",
	BNCInAFalling:       "bnc-a-falling",
	BNCInALevel:         "bnc-a-level",
	BNCInBRising:        "bnc-b-rising",
	BNCInBFalling:       "bnc-b-falling",
	BNCInBLevel:         "bnc-b-level",
	BNCInCRising:        "bnc-c-rising",
	BNCInCFalling:       "bnc-c-falling",
	BNCInCLevel:         "bnc-c-level",
	BackplaneTrigA:      "backplane-a",
	BackplaneTrigB:      "backplane-b",
	SPIFIFOFlushed:      "spi-fifo-flushed",
	SPIFIFOEv0:          "spi-fifo-ev0",
	SPIFIFOEv1:          "spi-fifo-ev1",
	RampOver:            "ramp-over",
	RAMSweepOver:        "ram-sweep-over",
	OtherSPIFIFOFlushed: "other-spi-fifo-flushed",
	OtherSPIFIFOEv0:     "other-spi-fifo-ev0",
	OtherSPIFIFOEv1:     "other-spi-fifo-ev1",
	OtherRampOver:       "other-ramp-over",
	OtherRAMSweepOver:   "other-ram-sweep-over",
}

func (e TriggerEvent) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("TriggerEvent(%d)", int(e))
}

// Valid reports whether e is a defined event code.
func (e TriggerEvent) Valid() bool {
	_, ok := eventNames[e]
	return ok
}

// ParseTriggerEvent maps a string name (as rendered by String) back to an
// event code.
func ParseTriggerEvent(s string) (TriggerEvent, error) {
	for ev, name := range eventNames {
		if name == s {
			return ev, nil
		}
	}
	return EventNone, fmt.Errorf("dcp: unknown trigger event %q", s)
}

// Forever disables a gate's timeout; the channel waits indefinitely.
const Forever time.Duration = -1

// Gate describes the condition a channel's next staged instruction must
// wait for: any of the listed events, or expiry of the timeout.  A nil
// event list with a non-negative timeout is a pure time delay.
type Gate struct {
	Events  []TriggerEvent
	Timeout time.Duration
}

// After returns a pure time-delay gate.
func After(d time.Duration) Gate {
	return Gate{Timeout: d}
}

// On returns a gate that waits forever for any of the given events.
func On(events ...TriggerEvent) Gate {
	return Gate{Events: events, Timeout: Forever}
}

// WithTimeout returns a copy of g with its timeout replaced.
func (g Gate) WithTimeout(d time.Duration) Gate {
	g.Timeout = d
	return g
}

func (g Gate) validate() error {
	for _, ev := range g.Events {
		if !ev.Valid() {
			return fmt.Errorf("dcp: invalid trigger event %d in gate", int(ev))
		}
	}
	if len(g.Events) == 0 && g.Timeout < 0 {
		return fmt.Errorf("dcp: gate with no events and no timeout would wait forever on nothing")
	}
	return nil
}

// Wait parks the addressed channel's instruction stream until the gate
// opens.  The wait is executed by the rack, not by this software.
type Wait struct {
	Ch   Channel
	Gate Gate
}

// NewWait builds a Wait, validating the gate's event codes.
func NewWait(ch Channel, gate Gate) (Wait, error) {
	if err := gate.validate(); err != nil {
		return Wait{}, err
	}
	return Wait{Ch: ch, Gate: gate}, nil
}

// Render implements Message.
func (m Wait) Render() string {
	timeField := ""
	if m.Gate.Timeout >= 0 {
		timeField = encodeDuration(m.Gate.Timeout)
	}
	evs := make([]string, len(m.Gate.Events))
	for i, ev := range m.Gate.Events {
		evs[i] = strconv.Itoa(int(ev))
	}
	return clean(fmt.Sprintf("dcp %s wait:%s:%s", m.Ch.field(), timeField, strings.Join(evs, ",")))
}

// Chan implements Message.
func (m Wait) Chan() Channel { return m.Ch }
