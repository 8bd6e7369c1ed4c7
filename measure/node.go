// SCOPEDECODE - Protocol and measurement decoding for captured instrument waveforms.
// Copyright (C) 2016 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package measure

import (
	"github.com/bemasher/scopedecode/compute"
	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/waveform"
)

func init() {
	decode.Register("risetime", func() decode.Decoder { return NewRiseTime() })
	decode.Register("falltime", func() decode.Decoder { return NewFallTime() })
	decode.Register("overshoot", func() decode.Decoder { return NewOvershoot() })
	decode.Register("pam", func() decode.Decoder { return NewPAM(4) })
	decode.Register("dramtiming", func() decode.Decoder { return NewDRAM() })
}

// EdgeOption configures an EdgeTime node.
type EdgeOption func(*EdgeTime)

// WithThresholds sets the measurement thresholds in percent of the amplitude.
func WithThresholds(low, high float64) EdgeOption {
	return func(e *EdgeTime) { e.Low, e.High = low, high }
}

func WithBackend(b compute.Backend) EdgeOption {
	return func(e *EdgeTime) { e.Backend = b }
}

// EdgeTime measures rise or fall times. Outputs are the per-edge trend and
// its average, minimum and maximum.
type EdgeTime struct {
	decode.Base

	Rising    bool
	Low, High float64
	Backend   compute.Backend
}

func newEdgeTime(name string, rising bool, opts []EdgeOption) *EdgeTime {
	e := &EdgeTime{Rising: rising, Low: DefaultLow, High: DefaultHigh, Backend: compute.Scalar{}}
	e.Init(name)
	e.CreateInput("in")
	e.AddOutputStream(decode.Seconds, "trend", decode.Analog)
	e.AddOutputStream(decode.Seconds, "avg", decode.Scalar)
	e.AddOutputStream(decode.Seconds, "min", decode.Scalar)
	e.AddOutputStream(decode.Seconds, "max", decode.Scalar)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

func NewRiseTime(opts ...EdgeOption) *EdgeTime { return newEdgeTime("risetime", true, opts) }

func NewFallTime(opts ...EdgeOption) *EdgeTime { return newEdgeTime("falltime", false, opts) }

func (e *EdgeTime) Protocol() string {
	if e.Rising {
		return "Rise Time"
	}
	return "Fall Time"
}

func (e *EdgeTime) ValidateChannel(slot int, s *decode.Stream) bool {
	return slot == 0 && decode.IsAnalog(s)
}

func (e *EdgeTime) Refresh() {
	e.ClearOutputs()

	if e.Low < 0 || e.High > 100 || e.Low >= e.High {
		e.AddError("invalid thresholds %g%%/%g%%", e.Low, e.High)
		return
	}

	in, ok := decode.Input[float32](e.Ports(), 0)
	if !ok || in.Len() < 2 {
		return
	}

	measure := FallTime
	if e.Rising {
		measure = RiseTime
	}
	trend, err := measure(e.Backend, in, e.Low, e.High)
	if err != nil {
		e.AddError("%s", err)
		return
	}

	e.SetOutput(trend, 0)
	if st := Trend(trend); st.N > 0 {
		e.SetScalar(st.Avg(), 1)
		e.SetScalar(st.Min, 2)
		e.SetScalar(st.Max, 3)
	}
}

// OvershootNode reports overshoot and undershoot in percent.
type OvershootNode struct {
	decode.Base
}

func NewOvershoot() *OvershootNode {
	o := &OvershootNode{}
	o.Init("overshoot")
	o.CreateInput("in")
	o.AddOutputStream(decode.Percent, "overshoot", decode.Scalar)
	o.AddOutputStream(decode.Percent, "undershoot", decode.Scalar)
	return o
}

func (o *OvershootNode) Protocol() string { return "Overshoot" }

func (o *OvershootNode) ValidateChannel(slot int, s *decode.Stream) bool {
	return slot == 0 && decode.IsAnalog(s)
}

func (o *OvershootNode) Refresh() {
	o.ClearOutputs()
	in, ok := decode.Input[float32](o.Ports(), 0)
	if !ok || in.Len() == 0 {
		return
	}
	over, under := Overshoot(in)
	o.SetScalar(over, 0)
	o.SetScalar(under, 1)
}

// PAM locates level transitions of an N-level signal.
type PAM struct {
	decode.Base

	Levels  int
	Backend compute.Backend
}

func NewPAM(levels int) *PAM {
	p := &PAM{Levels: levels, Backend: compute.Scalar{}}
	p.Init("pam")
	p.CreateInput("in")
	p.AddOutputStream(decode.None, "edges", decode.Protocol)
	return p
}

func (p *PAM) Protocol() string { return "PAM Edges" }

func (p *PAM) ValidateChannel(slot int, s *decode.Stream) bool {
	return slot == 0 && decode.IsAnalog(s)
}

func (p *PAM) Refresh() {
	p.ClearOutputs()
	in, ok := decode.Input[float32](p.Ports(), 0)
	if !ok || in.Len() == 0 {
		return
	}

	edges, _, err := PAMEdges(p.Backend, in, p.Levels)
	if err != nil {
		p.AddError("%s", err)
		return
	}
	p.SetOutput(edges, 0)
}

// DRAM measures command timing from a decoded command stream.
type DRAM struct {
	decode.Base
}

func NewDRAM() *DRAM {
	d := &DRAM{}
	d.Init("dramtiming")
	d.CreateInput("commands")
	d.AddOutputStream(decode.Seconds, "tRCD", decode.Analog)
	d.AddOutputStream(decode.Seconds, "tRP", decode.Analog)
	d.AddOutputStream(decode.Seconds, "tRCD min", decode.Scalar)
	d.AddOutputStream(decode.Seconds, "tRP min", decode.Scalar)
	return d
}

func (d *DRAM) Protocol() string { return "DRAM Timing" }

func (d *DRAM) ValidateChannel(slot int, s *decode.Stream) bool {
	if slot != 0 || s == nil || s.Kind != decode.Protocol {
		return false
	}
	if s.Data == nil {
		return true
	}
	_, ok := waveform.As[DRAMCommand](s.Data)
	return ok
}

func (d *DRAM) Refresh() {
	d.ClearOutputs()
	cmds, ok := decode.Input[DRAMCommand](d.Ports(), 0)
	if !ok {
		return
	}

	trcd, trp := DRAMTiming(cmds)
	d.SetOutput(trcd, 0)
	d.SetOutput(trp, 1)
	if st := Trend(trcd); st.N > 0 {
		d.SetScalar(st.Min, 2)
	}
	if st := Trend(trp); st.N > 0 {
		d.SetScalar(st.Min, 3)
	}
}
