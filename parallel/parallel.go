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

// Package parallel decodes words from a parallel bus of up to 32 data lanes,
// either on a clock edge or whenever any lane changes.
package parallel

import (
	"fmt"
	"strconv"

	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/packet"
	"github.com/bemasher/scopedecode/waveform"
)

func init() {
	decode.Register("parallel", func() decode.Decoder { return NewDecoder() })
}

// MaxWidth is the number of data lanes.
const MaxWidth = 32

// Symbol is one bus word.
type Symbol uint32

func (s Symbol) String() string {
	return fmt.Sprintf("%X", uint32(s))
}

type Option func(*Decoder)

// WithEdge selects the clock edges words are sampled on.
func WithEdge(e waveform.Edge) Option {
	return func(d *Decoder) { d.Edge = e }
}

// Decoder samples D0..D31 on CLK, or on every data change when CLK is not
// connected. Unconnected data lanes read as zero. Every word is also logged
// as a packet; back to back words collapse into a burst.
type Decoder struct {
	decode.Base
	packet.List

	Edge waveform.Edge
}

func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{Edge: waveform.EdgeRising}
	d.Init("parallel")
	d.CreateInput("CLK")
	for i := 0; i < MaxWidth; i++ {
		d.CreateInput("D" + strconv.Itoa(i))
	}
	d.AddOutputStream(decode.None, "word", decode.Protocol)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Decoder) Protocol() string { return "Parallel" }

func (d *Decoder) ValidateChannel(slot int, s *decode.Stream) bool {
	return slot <= MaxWidth && (s == nil || decode.IsDigital(s))
}

// Width returns the number of lanes up to the highest connected one.
func (d *Decoder) Width() int {
	for i := MaxWidth; i > 0; i-- {
		if d.InputWaveform(i) != nil {
			return i
		}
	}
	return 0
}

func (d *Decoder) HeaderNames() []string { return []string{"Word"} }

func (d *Decoder) CanMerge(group, rest []*packet.Packet) bool {
	return rest[0].Offset == group[len(group)-1].End()
}

func (d *Decoder) MergedHeader(group []*packet.Packet) *packet.Packet {
	p := packet.Span(group)
	p.Headers["Word"] = fmt.Sprintf("%d words", len(group))
	p.Data = nil
	for _, g := range group {
		p.Data = append(p.Data, g.Data...)
	}
	return p
}

func (d *Decoder) Refresh() {
	d.Reset()
	d.publish(d.words())
}

func (d *Decoder) publish(out *waveform.Sparse[Symbol]) {
	if out == nil {
		d.SetOutput(nil, 0)
		return
	}
	d.SetOutput(out, 0)

	bytes := (d.Width() + 7) / 8
	for i, w := range out.Samples {
		b := packet.NewBuilder(waveform.OffsetScaled(out, i)).
			Header("Word", w.String()).
			Color(packet.DataRead)
		for k := 0; k < bytes; k++ {
			b.Append(byte(w >> uint(8*k)))
		}
		d.Push(b.Finish(waveform.EndScaled(out, i)))
	}
}

func (d *Decoder) words() *waveform.Sparse[Symbol] {
	if d.Edge&waveform.EdgeBoth == 0 {
		d.AddError("no clock edge selected")
		return nil
	}

	lanes := make([]waveform.Series[bool], d.Width())
	var ref waveform.Waveform
	for i := range lanes {
		s, ok := decode.Input[bool](d.Ports(), i+1)
		if !ok || s.Len() == 0 {
			continue
		}
		lanes[i] = s
		if ref == nil {
			ref = s
		}
	}
	if ref == nil {
		return nil
	}

	if clk, ok := decode.Input[bool](d.Ports(), 0); ok {
		if clk.Len() == 0 {
			return nil
		}
		return Clocked(clk, lanes, d.Edge)
	}
	return Unclocked(ref, lanes)
}

// Clocked samples lanes on the selected edges of clk. Each word lasts until
// the next selected edge. Nil lanes read as zero; edges before every lane has
// started are skipped.
func Clocked(clk waveform.Series[bool], lanes []waveform.Series[bool], e waveform.Edge) *waveform.Sparse[Symbol] {
	out := waveform.NewSparseLike[Symbol](clk)

	var first int64
	for _, l := range lanes {
		if l == nil {
			continue
		}
		if t := waveform.OffsetScaled(l, 0); t > first {
			first = t
		}
	}

	edges := waveform.Edges(clk, e)
	last := clk.Offset(clk.Len()-1) + clk.Duration(clk.Len()-1)
	cursors := make([]int, len(lanes))
	for k, ci := range edges {
		t := waveform.OffsetScaled(clk, ci)
		if t < first {
			continue
		}

		var w Symbol
		for i, l := range lanes {
			if l != nil && waveform.NearestValue(l, &cursors[i], t) {
				w |= 1 << uint(i)
			}
		}

		end := last
		if k+1 < len(edges) {
			end = clk.Offset(edges[k+1])
		}
		off := clk.Offset(ci)
		out.Push(off, end-off, w)
	}
	return out
}

// Unclocked emits a word every time any lane changes value. The output shares
// ref's timebase.
func Unclocked(ref waveform.Waveform, lanes []waveform.Series[bool]) *waveform.Sparse[Symbol] {
	out := waveform.NewSparseLike[Symbol](ref)
	tb := out.Timing()

	var ws []waveform.Waveform
	var bits []int
	var end int64
	for i, l := range lanes {
		if l == nil {
			continue
		}
		ws = append(ws, l)
		bits = append(bits, i)
		if _, e := waveform.Span(l); e > end {
			end = e
		}
	}

	m := waveform.NewMerge(ws...)
	for ok := m.Valid(); ok; ok = m.Next() {
		var w Symbol
		for c, i := range bits {
			if m.Active(c) && waveform.ValueAt[bool](m, c) {
				w |= 1 << uint(i)
			}
		}

		n := out.Len()
		if n > 0 && out.Samples[n-1] == w {
			continue
		}
		at := tb.Ticks(m.Now)
		if n > 0 && at == out.Offsets[n-1] {
			// Lane changes within one output tick collapse into one word.
			out.Samples[n-1] = w
			if n > 1 && out.Samples[n-2] == w {
				out.Delete(n - 1)
			}
			continue
		}
		if n > 0 {
			out.Durations[n-1] = at - out.Offsets[n-1]
		}
		out.Push(at, 0, w)
	}

	if n := out.Len(); n > 0 {
		out.Durations[n-1] = tb.Ticks(end) - out.Offsets[n-1]
	}
	return out
}
