package flexdds

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/atomlab/dds/ad9910"
	"github.com/atomlab/dds/dcp"
	"github.com/atomlab/dds/generichttp"
)

// HTTPWrapper provides HTTP bindings on top of a Client.  Filter ramps
// staged over HTTP are held by the wrapper, keyed by (slot, channel),
// until a playback request consumes them.
type HTTPWrapper struct {
	Client *Client

	// RouteTable maps routes to handlers
	RouteTable generichttp.RouteTable

	mu      sync.Mutex
	filters map[[2]int]*FilterRamp
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table
// pre-configured.
func NewHTTPWrapper(c *Client) *HTTPWrapper {
	w := &HTTPWrapper{Client: c, filters: map[[2]int]*FilterRamp{}}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/single-tone"}:    w.SingleTone,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/ramp/frequency"}: w.FrequencyRamp,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/ramp/amplitude"}: w.AmplitudeRamp,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/ramp/phase"}:     w.PhaseRamp,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/playback"}:       w.Playback,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/modulation"}:     w.Modulation,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/wait/time"}:      w.WaitTime,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/wait/trigger"}:   w.WaitTrigger,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/run"}:            w.Run,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/reset"}:          w.Reset,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/state"}:           w.State,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/pending"}:         w.Pending,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer.
func (h *HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func parseParameter(s string) (ad9910.Parameter, error) {
	switch s {
	case "frequency":
		return ad9910.Frequency, nil
	case "phase":
		return ad9910.Phase, nil
	case "amplitude":
		return ad9910.Amplitude, nil
	}
	return 0, fmt.Errorf("unknown parameter %q", s)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

type target struct {
	Slot    int `json:"slot"`
	Channel int `json:"channel"`
}

func (t target) ch() dcp.Channel { return dcp.Channel(t.Channel) }

// SingleTone programs a constant tone on a channel.
func (h *HTTPWrapper) SingleTone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		target
		FreqHz   float64 `json:"freq_hz"`
		Amp      float64 `json:"amp"`
		PhaseDeg float64 `json:"phase_deg"`
	}
	if !generichttp.DecodeJSON(w, r, &req) {
		return
	}
	err := h.Client.SingleTone(req.Slot, req.ch(), req.FreqHz, req.Amp, req.PhaseDeg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type rampRequest struct {
	target
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	FreqHz    float64 `json:"freq_hz"`
	Amp       float64 `json:"amp"`
	PhaseDeg  float64 `json:"phase_deg"`
	DurationS float64 `json:"duration_s"`
	Step      float64 `json:"step"`
	Filter    bool    `json:"filter"`
}

func (h *HTTPWrapper) ramp(w http.ResponseWriter, r *http.Request, stage func(rampRequest) (*FilterRamp, error)) {
	var req rampRequest
	if !generichttp.DecodeJSON(w, r, &req) {
		return
	}
	f, err := stage(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if f != nil {
		h.mu.Lock()
		h.filters[[2]int{req.Slot, req.Channel}] = f
		h.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// FrequencyRamp stages a frequency sweep.
func (h *HTTPWrapper) FrequencyRamp(w http.ResponseWriter, r *http.Request) {
	h.ramp(w, r, func(req rampRequest) (*FilterRamp, error) {
		return h.Client.FrequencyRamp(req.Slot, req.ch(), req.Start, req.End,
			req.Amp, req.PhaseDeg, seconds(req.DurationS), req.Step, req.Filter)
	})
}

// AmplitudeRamp stages an amplitude sweep.
func (h *HTTPWrapper) AmplitudeRamp(w http.ResponseWriter, r *http.Request) {
	h.ramp(w, r, func(req rampRequest) (*FilterRamp, error) {
		return h.Client.AmplitudeRamp(req.Slot, req.ch(), req.Start, req.End,
			req.FreqHz, req.PhaseDeg, seconds(req.DurationS), req.Step, req.Filter)
	})
}

// PhaseRamp stages a phase sweep.
func (h *HTTPWrapper) PhaseRamp(w http.ResponseWriter, r *http.Request) {
	h.ramp(w, r, func(req rampRequest) (*FilterRamp, error) {
		return h.Client.PhaseRamp(req.Slot, req.ch(), req.Start, req.End,
			req.FreqHz, req.Amp, seconds(req.DurationS), req.Step, req.Filter)
	})
}

// Playback loads a waveform into sample RAM and stages its playback,
// consuming a previously staged filter ramp when use_filter is set.
func (h *HTTPWrapper) Playback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		target
		Parameter string    `json:"parameter"`
		Samples   []float64 `json:"samples"`
		FreqHz    float64   `json:"freq_hz"`
		Amp       float64   `json:"amp"`
		PhaseDeg  float64   `json:"phase_deg"`
		WindowS   float64   `json:"window_s"`
		UseFilter bool      `json:"use_filter"`
	}
	if !generichttp.DecodeJSON(w, r, &req) {
		return
	}
	kind, err := parseParameter(req.Parameter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var filter *FilterRamp
	if req.UseFilter {
		h.mu.Lock()
		filter = h.filters[[2]int{req.Slot, req.Channel}]
		h.mu.Unlock()
		if filter == nil {
			http.Error(w, "no filter ramp staged for this channel", http.StatusBadRequest)
			return
		}
	}
	err = h.Client.PlaybackFromMemory(req.Slot, req.ch(), kind, req.Samples,
		req.FreqHz, req.Amp, req.PhaseDeg, seconds(req.WindowS), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if req.UseFilter {
		h.mu.Lock()
		delete(h.filters, [2]int{req.Slot, req.Channel})
		h.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// Modulation configures analog modulation from breakpoints.
func (h *HTTPWrapper) Modulation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		target
		Use    string       `json:"use"`
		Output string       `json:"output"`
		In0    []Breakpoint `json:"in0"`
		In1    []Breakpoint `json:"in1"`
	}
	if !generichttp.DecodeJSON(w, r, &req) {
		return
	}
	var use ModChannels
	switch req.Use {
	case "in0":
		use = In0Only
	case "in1":
		use = In1Only
	case "both":
		use = BothInputs
	default:
		http.Error(w, fmt.Sprintf("unknown input selection %q", req.Use), http.StatusBadRequest)
		return
	}
	out, err := parseParameter(req.Output)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m := VoltageToOutputMap{Use: use, Output: out, In0: req.In0, In1: req.In1}
	if err := h.Client.AnalogModulation(req.Slot, req.ch(), m); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// WaitTime stages a fixed delay.
func (h *HTTPWrapper) WaitTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		target
		Seconds float64 `json:"seconds"`
	}
	if !generichttp.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.Client.WaitTime(req.Slot, req.ch(), seconds(req.Seconds)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// WaitTrigger stages a trigger gate.  A negative timeout waits forever.
func (h *HTTPWrapper) WaitTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		target
		Events   []string `json:"events"`
		TimeoutS float64  `json:"timeout_s"`
	}
	if !generichttp.DecodeJSON(w, r, &req) {
		return
	}
	gate := dcp.Gate{Timeout: dcp.Forever}
	if req.TimeoutS >= 0 {
		gate.Timeout = seconds(req.TimeoutS)
	}
	for _, name := range req.Events {
		ev, err := dcp.ParseTriggerEvent(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gate.Events = append(gate.Events, ev)
	}
	if err := h.Client.WaitTrigger(req.Slot, req.ch(), gate); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Run delivers a slot's staged batch to the hardware.
func (h *HTTPWrapper) Run(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slot     int  `json:"slot"`
		NoUpdate bool `json:"no_update"`
	}
	if !generichttp.DecodeJSON(w, r, &req) {
		return
	}
	var err error
	if req.NoUpdate {
		err = h.Client.RunNoUpdate(req.Slot)
	} else {
		err = h.Client.Run(req.Slot)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Reset discards a slot's staged work and stages a card reset.
func (h *HTTPWrapper) Reset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slot int `json:"slot"`
	}
	if !generichttp.DecodeJSON(w, r, &req) {
		return
	}
	h.mu.Lock()
	delete(h.filters, [2]int{req.Slot, 0})
	delete(h.filters, [2]int{req.Slot, 1})
	h.mu.Unlock()
	if err := h.Client.Reset(req.Slot); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, fmt.Errorf("missing query parameter %q", key)
	}
	return strconv.Atoi(v)
}

// State reports a channel's sequencer state as JSON.
func (h *HTTPWrapper) State(w http.ResponseWriter, r *http.Request) {
	slot, err := queryInt(r, "slot")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ch, err := queryInt(r, "channel")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := h.Client.State(slot, dcp.Channel(ch))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.EncodeJSON(w, struct {
		State string `json:"state"`
	}{st.String()})
}

// Pending reports a slot's staged command lines as JSON.
func (h *HTTPWrapper) Pending(w http.ResponseWriter, r *http.Request) {
	slot, err := queryInt(r, "slot")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msgs, err := h.Client.Pending(slot)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = m.Render()
	}
	generichttp.EncodeJSON(w, struct {
		Lines []string `json:"lines"`
	}{lines})
}
