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

package waveform

import "math"

// Never is returned by NextEventTimestamp once a channel is exhausted.
const Never int64 = math.MaxInt64

// NextEventTimestamp returns the start time (fs) of the first sample at or
// after cursor i that begins strictly after now, or Never.
func NextEventTimestamp(w Waveform, i int, now int64) int64 {
	n := w.Len()
	if i < 0 {
		i = 0
	}

	// Uniform waveforms can jump straight to the answer.
	if _, ok := w.(interface{ uniform() }); ok {
		tb := w.Timing()
		ts := tb.scale()
		j := (now + 1 - tb.TriggerPhase + ts - 1) / ts
		if now+1-tb.TriggerPhase <= 0 {
			j = 0
		}
		if j < int64(i) {
			j = int64(i)
		}
		if j >= int64(n) {
			return Never
		}
		return j*ts + tb.TriggerPhase
	}

	for j := i; j < n; j++ {
		if t := OffsetScaled(w, j); t >= now+1 {
			return t
		}
	}
	return Never
}

// AdvanceToTimestamp moves cursor i forward (never backward) until it names the
// latest sample starting at or before t.
func AdvanceToTimestamp(w Waveform, i *int, t int64) {
	n := w.Len()
	for *i+1 < n && OffsetScaled(w, *i+1) <= t {
		*i++
	}
}

func (u *Uniform[T]) uniform() {}

// Merge walks several waveforms in lock-step without resampling them onto a
// common grid. Each step moves Now to the earliest sample start on any
// channel and advances every cursor to it. The end of a sample followed by a
// gap is not a step of its own; Active reports the gap at the next step.
type Merge struct {
	Now int64

	ws  []Waveform
	cur []int
}

// NewMerge positions the merge at the earliest first sample of any channel.
func NewMerge(ws ...Waveform) *Merge {
	m := &Merge{
		Now: Never,
		ws:  ws,
		cur: make([]int, len(ws)),
	}

	for _, w := range ws {
		if w.Len() == 0 {
			continue
		}
		if t := OffsetScaled(w, 0); t < m.Now {
			m.Now = t
		}
	}

	if m.Now != Never {
		for c, w := range ws {
			AdvanceToTimestamp(w, &m.cur[c], m.Now)
		}
	}

	return m
}

// Valid reports whether at least one channel holds a sample at Now.
func (m *Merge) Valid() bool {
	return m.Now != Never
}

// Next steps to the next boundary. Ties between channels collapse into a
// single step. It reports false once every channel is exhausted.
func (m *Merge) Next() bool {
	if m.Now == Never {
		return false
	}

	next := Never
	for c, w := range m.ws {
		if t := NextEventTimestamp(w, m.cur[c], m.Now); t < next {
			next = t
		}
	}
	if next == Never || next == m.Now {
		return false
	}

	m.Now = next
	for c, w := range m.ws {
		AdvanceToTimestamp(w, &m.cur[c], next)
	}
	return true
}

// Cursor returns the current sample index of channel c.
func (m *Merge) Cursor(c int) int {
	return m.cur[c]
}

// Active reports whether channel c has a sample covering Now. A sparse channel
// is inactive inside a gap between samples and after its last sample ends.
func (m *Merge) Active(c int) bool {
	w := m.ws[c]
	if w.Len() == 0 {
		return false
	}
	i := m.cur[c]
	return OffsetScaled(w, i) <= m.Now && m.Now < EndScaled(w, i)
}

// Changed reports whether a sample of channel c starts exactly at Now.
func (m *Merge) Changed(c int) bool {
	w := m.ws[c]
	return w.Len() > 0 && OffsetScaled(w, m.cur[c]) == m.Now
}

// ValueAt returns the current value of channel c of the merge, which must hold
// a Series of T.
func ValueAt[T any](m *Merge, c int) T {
	return m.ws[c].(Series[T]).Value(m.cur[c])
}
