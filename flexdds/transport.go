package flexdds

import (
	"fmt"
	"strings"

	"github.com/atomlab/dds/comm"
	"github.com/atomlab/dds/dcp"
)

// Rack is a Transport over a rack's TCP command ports, one connection
// per slot card.
type Rack struct {
	Addr string

	devs [NumSlots]*comm.RemoteDevice
}

// DialRack connects to every slot of the rack at host and authenticates
// each connection.  The authentication exchange is the one command whose
// reply carries no OK, so its response is read and discarded.
func DialRack(host string) (*Rack, error) {
	r := &Rack{Addr: host}
	for i := 0; i < NumSlots; i++ {
		rd := comm.NewRemoteDevice(fmt.Sprintf("%s:%d", host, BasePort+i), false)
		if err := rd.Open(); err != nil {
			r.Close()
			return nil, fmt.Errorf("flexdds: opening slot %d: %w", i, err)
		}
		r.devs[i] = &rd
		if _, err := rd.SendRecv([]byte(dcp.Authenticate{Slot: i}.Render())); err != nil {
			r.Close()
			return nil, fmt.Errorf("flexdds: authenticating slot %d: %w", i, err)
		}
	}
	return r, nil
}

// Send writes one command batch to a slot and checks its acknowledgement.
func (r *Rack) Send(slot int, payload []byte) error {
	dev := r.devs[slot]
	if dev == nil {
		return fmt.Errorf("flexdds: slot %d is not connected", slot)
	}
	resp, err := dev.SendRecv(payload)
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(string(resp)), "error") {
		return fmt.Errorf("flexdds: slot %d rejected batch: %s", slot, strings.TrimSpace(string(resp)))
	}
	return nil
}

// Close drops all slot connections.
func (r *Rack) Close() error {
	var first error
	for i, dev := range r.devs {
		if dev == nil {
			continue
		}
		if err := dev.Close(); err != nil && first == nil {
			first = err
		}
		r.devs[i] = nil
	}
	return first
}

// Dial opens a rack at host, authenticates every slot, and restores each
// slot's control registers to their power-on defaults so the local
// shadows start out truthful.
func Dial(host string) (*Client, error) {
	rack, err := DialRack(host)
	if err != nil {
		return nil, err
	}
	c := NewClient(rack)
	for i := range c.slots {
		if err := c.restoreCFRDefaults(i); err != nil {
			rack.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) restoreCFRDefaults(slot int) error {
	s, err := c.slot(slot)
	if err != nil {
		return err
	}
	for _, ch := range []dcp.Channel{dcp.Ch0, dcp.Ch1} {
		if err := s.pushCFR(ch, 1); err != nil {
			return err
		}
		if err := s.pushCFR(ch, 2); err != nil {
			return err
		}
	}
	return c.Run(slot)
}
