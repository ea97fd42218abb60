/*Package dcp encodes the ASCII command language spoken by the FlexDDS
rack's DDS control processor.

Each slot card accepts newline-terminated commands on its own TCP port.
A command addresses zero, one or both channels of the card and either
writes an AD9910 register through the SPI bridge (spi: namespace), writes
a DCP-local register (wr: namespace), pulses an update line, or parks the
channel's instruction stream behind a wait condition.  Register writes are
double-buffered by the chip: nothing takes effect on the output until an
update is pulsed.

This package only renders frames; ordering, update insertion and the
per-channel state machine live in package flexdds.
*/
package dcp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/atomlab/dds/ad9910"
)

// Channel selects which of a slot's two synthesis channels a command
// addresses.  BothChannels renders as an empty field, which the DCP
// interprets as "both".
type Channel int

const (
	BothChannels Channel = -1
	Ch0          Channel = 0
	Ch1          Channel = 1
)

// Valid reports whether c is an addressable channel selector.
func (c Channel) Valid() bool {
	return c == BothChannels || c == Ch0 || c == Ch1
}

// Covers reports whether a command addressed to c affects channel other.
func (c Channel) Covers(other Channel) bool {
	return c == BothChannels || other == BothChannels || c == other
}

func (c Channel) field() string {
	if c == BothChannels {
		return ""
	}
	return strconv.Itoa(int(c))
}

// A Message is one line of the command language.
type Message interface {
	// Render returns the command line without its trailing newline.
	Render() string

	// Chan returns the channel selector the message is addressed to.
	Chan() Channel
}

// clean collapses repeated spaces, which appear when a channel field is
// empty, and trims the ends.  The DCP tolerates them but logs are nicer
// without.
func clean(s string) string {
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}

// EncodingError indicates a register payload wider than the register's
// declared width.  It is a defect in the calling layer, never a runtime
// condition to retry.
type EncodingError struct {
	Reg   ad9910.Register
	Value uint64
}

func (e EncodingError) Error() string {
	return fmt.Sprintf("dcp: value %#x does not fit %s (%d bits)", e.Value, e.Reg.Name, e.Reg.Bits)
}

// SPIWrite stages one AD9910 register write.  Cont marks the write as a
// continuing RAM burst (the DCP keeps the chip's RAM address counter
// running across such writes).
type SPIWrite struct {
	Ch    Channel
	Reg   ad9910.Register
	Value uint64
	Cont  bool
}

// NewSPIWrite builds an SPIWrite, validating the payload against the
// register's declared width.
func NewSPIWrite(ch Channel, reg ad9910.Register, value uint64) (SPIWrite, error) {
	if reg.Bits < 64 && value >= 1<<uint(reg.Bits) {
		return SPIWrite{}, EncodingError{Reg: reg, Value: value}
	}
	return SPIWrite{Ch: ch, Reg: reg, Value: value}, nil
}

// Render implements Message.
func (m SPIWrite) Render() string {
	s := fmt.Sprintf("dcp %s spi:%s=0x%0*x", m.Ch.field(), m.Reg.Name, m.Reg.Bits/4, m.Value)
	if m.Cont {
		s += ":c"
	}
	return clean(s)
}

// Chan implements Message.
func (m SPIWrite) Chan() Channel { return m.Ch }

// Write stages a DCP-local register write (wr: namespace), used for the
// analog modulation map.
type Write struct {
	Ch    Channel
	Name  string
	Value int64
}

// Render implements Message.
func (m Write) Render() string {
	return clean(fmt.Sprintf("dcp %s wr:%s=%#x", m.Ch.field(), m.Name, m.Value))
}

// Chan implements Message.
func (m Write) Chan() Channel { return m.Ch }

// UpdateKind selects which update lines an Update pulses or holds.  The
// plain pulse commits staged register writes; the DRCTL variants steer
// the digital ramp direction pin, and the profile variants switch the
// active single tone profile.
type UpdateKind string

const (
	UpdatePulse         UpdateKind = "u"
	UpdatePulseLowDRCTL UpdateKind = "u-d"
	UpdatePulseHiDRCTL  UpdateKind = "u+d"
	UpdateLowDRCTL      UpdateKind = "-d"
	UpdateHiDRCTL       UpdateKind = "+d"
	UpdateProfile0      UpdateKind = "=0p"
	UpdateProfile1      UpdateKind = "=1p"
)

// Update pulses the chip's I/O update (or a related control line), making
// previously staged register writes take effect.
type Update struct {
	Ch   Channel
	Kind UpdateKind
}

// Render implements Message.
func (m Update) Render() string {
	k := m.Kind
	if k == "" {
		k = UpdatePulse
	}
	return clean(fmt.Sprintf("dcp %s update:%s", m.Ch.field(), k))
}

// Chan implements Message.
func (m Update) Chan() Channel { return m.Ch }

// Reset returns the addressed channel(s) to the power-on state, dropping
// staged writes, latent ramps and RAM programming.
type Reset struct {
	Ch Channel
}

// Render implements Message.
func (m Reset) Render() string {
	return clean(fmt.Sprintf("dds %s reset", m.Ch.field()))
}

// Chan implements Message.
func (m Reset) Chan() Channel { return m.Ch }

// Authenticate unlocks a slot's command port.  The final nibble of the
// magic is the slot index.
type Authenticate struct {
	Slot int
}

// Render implements Message.
func (m Authenticate) Render() string {
	return fmt.Sprintf("75f4a4e10dd4b6b%x", m.Slot)
}

// Chan implements Message.
func (m Authenticate) Chan() Channel { return BothChannels }

// Raw passes a literal command line through unmodified, for the handful
// of DCP features this layer does not model.
type Raw struct {
	Text string
}

// Render implements Message.
func (m Raw) Render() string { return clean(m.Text) }

// Chan implements Message.
func (m Raw) Chan() Channel { return BothChannels }

// hiResLimit is the longest duration encodable in the wait command's
// high resolution (8 ns) units.
const hiResLimit = 134 * time.Millisecond

// encodeDuration renders a wait/timeout duration in the DCP's time units:
// 8 ns units with an "h" suffix when the duration is short enough, 1024 ns
// units otherwise.
func encodeDuration(d time.Duration) string {
	ns := float64(d.Nanoseconds())
	if d <= hiResLimit {
		return strconv.FormatInt(int64(math.Round(ns/8)), 10) + "h"
	}
	return strconv.FormatInt(int64(math.Round(ns/1024)), 10)
}
