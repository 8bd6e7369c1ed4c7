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

package gen

import (
	"sort"
	"strconv"

	"github.com/bemasher/scopedecode/waveform"
)

type change struct {
	tick int
	v    bool
}

// Bus renders multi-lane digital traces from value changes. Every lane starts
// low and holds each value until its next change.
type Bus struct {
	Timebase waveform.Timebase

	names   []string
	changes map[string][]change
	end     int
}

// NewBus declares lanes in order.
func NewBus(tb waveform.Timebase, names ...string) *Bus {
	b := &Bus{Timebase: tb, changes: map[string][]change{}}
	for _, name := range names {
		b.lane(name)
	}
	return b
}

func (b *Bus) lane(name string) {
	if _, ok := b.changes[name]; !ok {
		b.names = append(b.names, name)
		b.changes[name] = nil
	}
}

// Set drives lane name to v from tick onward.
func (b *Bus) Set(name string, tick int, v bool) {
	b.lane(name)
	b.changes[name] = append(b.changes[name], change{tick, v})
	b.Extend(tick + 1)
}

// SetBits drives lanes prefix0, prefix1, ... to the bits of v from tick onward.
func (b *Bus) SetBits(prefix string, width, tick int, v uint64) {
	for i := 0; i < width; i++ {
		b.Set(prefix+strconv.Itoa(i), tick, v>>uint(i)&1 == 1)
	}
}

// Extend makes the capture at least n ticks long.
func (b *Bus) Extend(n int) {
	if n > b.end {
		b.end = n
	}
}

// Len returns the capture length in ticks.
func (b *Bus) Len() int { return b.end }

// Names lists lanes in declaration order.
func (b *Bus) Names() []string { return b.names }

// Render returns one uniform waveform per lane.
func (b *Bus) Render() map[string]*waveform.Uniform[bool] {
	lanes := make(map[string]*waveform.Uniform[bool], len(b.names))
	for _, name := range b.names {
		cs := append([]change(nil), b.changes[name]...)
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].tick < cs[j].tick })

		u := &waveform.Uniform[bool]{Timebase: b.Timebase, Samples: make([]bool, b.end)}
		v, next := false, 0
		for i := range u.Samples {
			for next < len(cs) && cs[next].tick <= i {
				v = cs[next].v
				next++
			}
			u.Samples[i] = v
		}
		lanes[name] = u
	}
	return lanes
}

// Waveforms is Render with untyped values, as acquisition sources hand them
// over.
func (b *Bus) Waveforms() map[string]waveform.Waveform {
	ws := map[string]waveform.Waveform{}
	for name, u := range b.Render() {
		ws[name] = u
	}
	return ws
}

// Clocked drives bits onto lane data, two ticks per bit, with lane clk low for
// the first tick and high for the second. A receiver sampling on rising clk
// edges sees every bit. Returns the tick after the last bit.
func (b *Bus) Clocked(clk, data string, tick int, bits []byte) int {
	for _, bit := range bits {
		b.Set(data, tick, bit == 1)
		b.Set(clk, tick, false)
		b.Set(clk, tick+1, true)
		tick += 2
	}
	b.Set(clk, tick, false)
	return tick
}
