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

// Package dphy decodes MIPI D-PHY lanes: line states from the analog Dp/Dn
// voltages, and low power escape mode sequences on top of them.
package dphy

import (
	"fmt"

	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/waveform"
)

func init() {
	decode.Register("dphy", func() decode.Decoder { return NewDecoder() })
}

// Line state thresholds in volts.
const (
	LPThreshold = 0.6
	HSThreshold = 0.07 // differential
	HSCommon    = 0.2  // single ended
)

// Default timing parameters.
const (
	DefaultTLPX       = 50 * waveform.NS
	DefaultTHSPrepare = 40 * waveform.NS
)

// Symbol is a D-PHY line state.
type Symbol int

const (
	HS0 Symbol = iota
	HS1
	LP00
	LP01
	LP10
	LP11
)

var symbolNames = [...]string{"HS-0", "HS-1", "LP-00", "LP-01", "LP-10", "LP-11"}

func (s Symbol) String() string {
	if s < 0 || int(s) >= len(symbolNames) {
		return fmt.Sprintf("Symbol(%d)", int(s))
	}
	return symbolNames[s]
}

// LP reports whether s is a low power state.
func (s Symbol) LP() bool {
	return s >= LP00
}

// Classify maps instantaneous line voltages to a state. Without Dn only the
// HS levels and LP-11 can be told apart.
func Classify(dp, dn float32, differential bool) Symbol {
	if !differential {
		switch {
		case dp > LPThreshold:
			return LP11
		case dp > HSCommon:
			return HS1
		}
		return HS0
	}

	p, n := dp > LPThreshold, dn > LPThreshold
	switch {
	case p && n:
		return LP11
	case p:
		return LP10
	case n:
		return LP01
	}

	switch d := dp - dn; {
	case d > HSThreshold:
		return HS1
	case d < -HSThreshold:
		return HS0
	}
	return LP00
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithTLPX sets the shortest LP state accepted, in femtoseconds.
func WithTLPX(fs int64) Option {
	return func(d *Decoder) { d.TLPX = fs }
}

// WithTHSPrepare sets the minimum LP-00 time before HS-0, in femtoseconds.
func WithTHSPrepare(fs int64) Option {
	return func(d *Decoder) { d.THSPrepare = fs }
}

// Decoder converts Dp and an optional Dn into a run-length coded stream of
// line states.
type Decoder struct {
	decode.Base

	TLPX       int64
	THSPrepare int64
}

func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{TLPX: DefaultTLPX, THSPrepare: DefaultTHSPrepare}
	d.Init("dphy")
	d.CreateInput("Dp")
	d.CreateInput("Dn")
	d.AddOutputStream(decode.None, "state", decode.Protocol)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Decoder) Protocol() string { return "D-PHY" }

func (d *Decoder) ValidateChannel(slot int, s *decode.Stream) bool {
	switch slot {
	case 0:
		return decode.IsAnalog(s)
	case 1:
		return s == nil || decode.IsAnalog(s)
	}
	return false
}

func (d *Decoder) Refresh() {
	if d.TLPX < 0 || d.THSPrepare < 0 {
		d.AddError("negative timing parameter (tlpx=%d, ths-prepare=%d)", d.TLPX, d.THSPrepare)
		d.SetOutput(nil, 0)
		return
	}

	dp, ok := decode.Input[float32](d.Ports(), 0)
	if !ok || dp.Len() == 0 {
		d.SetOutput(nil, 0)
		return
	}
	dn, differential := decode.Input[float32](d.Ports(), 1)
	if differential && dn.Len() == 0 {
		d.SetOutput(nil, 0)
		return
	}

	out := Symbols(dp, dn, differential)
	tb := out.Timing()
	FilterGlitches(out, ticks(tb, d.TLPX))
	HoldPrepare(out, ticks(tb, d.THSPrepare))
	d.SetOutput(out, 0)
}

func ticks(tb *waveform.Timebase, fs int64) int64 {
	return tb.Ticks(fs + tb.TriggerPhase)
}

// crossing returns the fraction of the step from a to b at which thr is
// crossed.
func crossing(a, b, thr float32) float64 {
	if a == b {
		return 0
	}
	f := float64((thr - a) / (b - a))
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// transition estimates where between two consecutive readings the line
// switched from state s0 to s1, as a fraction of the step.
func transition(s0, s1 Symbol, p0, n0, p1, n1 float32, differential bool) float64 {
	if !differential {
		thr := float32(HSCommon)
		if s0 == LP11 || s1 == LP11 {
			thr = LPThreshold
		}
		return crossing(p0, p1, thr)
	}

	if (p0 > LPThreshold) != (p1 > LPThreshold) {
		return crossing(p0, p1, LPThreshold)
	}
	if (n0 > LPThreshold) != (n1 > LPThreshold) {
		return crossing(n0, n1, LPThreshold)
	}

	var thr float32
	switch {
	case s0 == HS1 && s1 == LP00, s0 == LP00 && s1 == HS1:
		thr = HSThreshold
	case s0 == HS0 && s1 == LP00, s0 == LP00 && s1 == HS0:
		thr = -HSThreshold
	}
	return crossing(p0-n0, p1-n1, thr)
}

// Symbols classifies every reading of dp (and dn when differential) and
// places each state change at its interpolated crossing. The result shares
// dp's timebase and covers exactly the span of the inputs.
func Symbols(dp, dn waveform.Series[float32], differential bool) *waveform.Sparse[Symbol] {
	out := waveform.NewSparseLike[Symbol](dp)
	tb := out.Timing()

	ws := []waveform.Waveform{dp}
	start, end := waveform.Span(dp)
	if differential {
		ws = append(ws, dn)
		s, e := waveform.Span(dn)
		if s < start {
			start = s
		}
		if e > end {
			end = e
		}
	}

	m := waveform.NewMerge(ws...)
	var (
		cur      Symbol
		segStart int64
		prevT    int64
		p0, n0   float32
		started  bool
	)
	for ok := m.Valid(); ok; ok = m.Next() {
		var p, n float32
		if m.Active(0) {
			p = waveform.ValueAt[float32](m, 0)
		}
		if differential && m.Active(1) {
			n = waveform.ValueAt[float32](m, 1)
		}
		s := Classify(p, n, differential)

		switch {
		case !started:
			cur, segStart, started = s, tb.Ticks(start), true
		case s != cur:
			f := transition(cur, s, p0, n0, p, n, differential)
			at := tb.TicksRound(float64(prevT) + f*float64(m.Now-prevT))
			if at > segStart {
				out.Push(segStart, at-segStart, cur)
				segStart = at
			}
			cur = s
		}
		prevT, p0, n0 = m.Now, p, n
	}

	if last := tb.Ticks(end); started && last > segStart {
		out.Push(segStart, last-segStart, cur)
	}
	mergeEqual(out)
	return out
}

// mergeEqual joins neighbouring samples holding the same state.
func mergeEqual(s *waveform.Sparse[Symbol]) {
	for i := 1; i < s.Len(); {
		if s.Samples[i] == s.Samples[i-1] {
			s.Durations[i-1] += s.Durations[i]
			s.Delete(i)
			continue
		}
		i++
	}
}

// FilterGlitches removes LP states shorter than min ticks, giving their time
// to the preceding state. The first state is never removed.
func FilterGlitches(s *waveform.Sparse[Symbol], min int64) {
	for i := 1; i < s.Len(); {
		if s.Samples[i].LP() && s.Durations[i] < min {
			s.Durations[i-1] += s.Durations[i]
			s.Delete(i)
			continue
		}
		i++
	}
	mergeEqual(s)
}

// HoldPrepare delays every LP-00 to HS-0 transition until LP-00 has lasted
// min ticks. An HS-0 burst shorter than the delay is absorbed entirely.
func HoldPrepare(s *waveform.Sparse[Symbol], min int64) {
	for i := 1; i < s.Len(); i++ {
		if s.Samples[i-1] != LP00 || s.Samples[i] != HS0 || s.Durations[i-1] >= min {
			continue
		}

		shift := min - s.Durations[i-1]
		if shift >= s.Durations[i] {
			s.Durations[i-1] += s.Durations[i]
			s.Delete(i)
			i--
			continue
		}
		s.Durations[i-1] += shift
		s.Offsets[i] += shift
		s.Durations[i] -= shift
	}
	mergeEqual(s)
}
