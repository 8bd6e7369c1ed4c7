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

// Package waveform holds the sample store shared by every decoder and
// measurement: sparse and uniform sample series, the timebase anchoring them
// on an absolute timeline, and cursor helpers for walking several series in
// lock-step.
package waveform

import (
	"math"

	"golang.org/x/xerrors"
)

// Time units, all expressed in femtoseconds.
const (
	FS int64 = 1
	PS       = 1000 * FS
	NS       = 1000 * PS
	US       = 1000 * NS
	MS       = 1000 * US
	S        = 1000 * MS
)

// Timebase anchors a waveform's ticks on an absolute timeline. A sample's
// absolute time is StartTimestamp + StartFraction + offset*Timescale +
// TriggerPhase.
type Timebase struct {
	Timescale      int64 // femtoseconds per tick
	TriggerPhase   int64 // femtoseconds from first tick to trigger
	StartTimestamp int64 // unix seconds
	StartFraction  int64 // femtoseconds past StartTimestamp
}

// Timing gives access to the embedded timebase.
func (tb *Timebase) Timing() *Timebase {
	return tb
}

// scale treats a zero timescale as one femtosecond per tick so zero-value
// waveforms stay usable.
func (tb *Timebase) scale() int64 {
	if tb.Timescale <= 0 {
		return 1
	}
	return tb.Timescale
}

// Ticks converts a time in femtoseconds (relative to the waveform anchor) into
// ticks of this timebase, truncating toward the earlier tick.
func (tb *Timebase) Ticks(fs int64) int64 {
	d := fs - tb.TriggerPhase
	ts := tb.scale()
	q := d / ts
	if d%ts != 0 && d < 0 {
		q--
	}
	return q
}

// TicksRound converts a fractional femtosecond time into the nearest tick.
func (tb *Timebase) TicksRound(fs float64) int64 {
	return int64(math.Round((fs - float64(tb.TriggerPhase)) / float64(tb.scale())))
}

// Waveform is the representation-agnostic view every algorithm works on.
type Waveform interface {
	Len() int
	Offset(i int) int64
	Duration(i int) int64
	Timing() *Timebase
}

// Series is a Waveform with typed sample values.
type Series[T any] interface {
	Waveform
	Value(i int) T
}

// As returns w viewed as a Series of T. It reports false for a nil waveform or
// one holding a different sample type.
func As[T any](w Waveform) (Series[T], bool) {
	if w == nil {
		return nil, false
	}
	s, ok := w.(Series[T])
	return s, ok
}

// Derive copies all four timebase fields of src into dst.
func Derive(dst, src Waveform) {
	*dst.Timing() = *src.Timing()
}

// OffsetScaled returns the start of sample i in femtoseconds.
func OffsetScaled(w Waveform, i int) int64 {
	tb := w.Timing()
	return w.Offset(i)*tb.scale() + tb.TriggerPhase
}

// DurationScaled returns the duration of sample i in femtoseconds.
func DurationScaled(w Waveform, i int) int64 {
	return w.Duration(i) * w.Timing().scale()
}

// EndScaled returns the end of sample i in femtoseconds.
func EndScaled(w Waveform, i int) int64 {
	return OffsetScaled(w, i) + DurationScaled(w, i)
}

// Span returns the start of the first sample and the end of the last sample
// in femtoseconds. An empty waveform spans nothing.
func Span(w Waveform) (start, end int64) {
	if w == nil || w.Len() == 0 {
		return 0, 0
	}
	return OffsetScaled(w, 0), EndScaled(w, w.Len()-1)
}

// Sparse holds explicitly placed samples. Offsets must be non-decreasing once
// published; gaps and overlaps may exist only while a decoder is building it.
type Sparse[T any] struct {
	Timebase

	Offsets   []int64
	Durations []int64
	Samples   []T
}

// NewSparseLike returns an empty sparse waveform sharing ref's timebase.
func NewSparseLike[T any](ref Waveform) *Sparse[T] {
	s := new(Sparse[T])
	if ref != nil {
		Derive(s, ref)
	}
	return s
}

func (s *Sparse[T]) Len() int { return len(s.Samples) }
func (s *Sparse[T]) Offset(i int) int64 { return s.Offsets[i] }
func (s *Sparse[T]) Duration(i int) int64 { return s.Durations[i] }
func (s *Sparse[T]) Value(i int) T { return s.Samples[i] }

// Push appends a sample.
func (s *Sparse[T]) Push(offset, duration int64, v T) {
	s.Offsets = append(s.Offsets, offset)
	s.Durations = append(s.Durations, duration)
	s.Samples = append(s.Samples, v)
}

// Extend stretches the last sample so it ends at end (in ticks).
func (s *Sparse[T]) Extend(end int64) {
	n := len(s.Offsets)
	if n == 0 {
		return
	}
	if d := end - s.Offsets[n-1]; d > s.Durations[n-1] {
		s.Durations[n-1] = d
	}
}

// Delete removes sample i.
func (s *Sparse[T]) Delete(i int) {
	s.Offsets = append(s.Offsets[:i], s.Offsets[i+1:]...)
	s.Durations = append(s.Durations[:i], s.Durations[i+1:]...)
	s.Samples = append(s.Samples[:i], s.Samples[i+1:]...)
}

// End returns the end of the last sample in ticks.
func (s *Sparse[T]) End() int64 {
	n := len(s.Offsets)
	if n == 0 {
		return 0
	}
	return s.Offsets[n-1] + s.Durations[n-1]
}

// Resolve clips every duration that overlaps the next sample.
func (s *Sparse[T]) Resolve() {
	for i := 0; i+1 < len(s.Offsets); i++ {
		if end := s.Offsets[i] + s.Durations[i]; end > s.Offsets[i+1] {
			s.Durations[i] = s.Offsets[i+1] - s.Offsets[i]
		}
	}
}

// Validate checks the published-waveform invariants.
func (s *Sparse[T]) Validate() error {
	if len(s.Offsets) != len(s.Durations) || len(s.Offsets) != len(s.Samples) {
		return xerrors.Errorf("waveform: mismatched lengths (offsets=%d, durations=%d, samples=%d)",
			len(s.Offsets), len(s.Durations), len(s.Samples),
		)
	}
	for i := 1; i < len(s.Offsets); i++ {
		if s.Offsets[i] < s.Offsets[i-1] {
			return xerrors.Errorf("waveform: offsets decrease at sample %d (%d < %d)",
				i, s.Offsets[i], s.Offsets[i-1],
			)
		}
	}
	return nil
}

// Uniform holds samples spaced exactly one tick apart.
type Uniform[T any] struct {
	Timebase

	Samples []T
}

// NewUniformLike returns a uniform waveform of n samples sharing ref's timebase.
func NewUniformLike[T any](ref Waveform, n int) *Uniform[T] {
	u := &Uniform[T]{Samples: make([]T, n)}
	if ref != nil {
		Derive(u, ref)
	}
	return u
}

func (u *Uniform[T]) Len() int { return len(u.Samples) }
func (u *Uniform[T]) Offset(i int) int64 { _ = u.Samples[i]; return int64(i) }
func (u *Uniform[T]) Duration(i int) int64 { _ = u.Samples[i]; return 1 }
func (u *Uniform[T]) Value(i int) T { return u.Samples[i] }
