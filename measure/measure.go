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

// Package measure derives electrical and timing measurements from captured
// waveforms: edge rate, overshoot, multi-level edge positions and DRAM command
// timing. Trends are sparse waveforms of per-event values; summary statistics
// use compensated summation.
package measure

import (
	"math"

	"github.com/bemasher/scopedecode/compute"
	"github.com/bemasher/scopedecode/waveform"
)

// Default amplitude thresholds in percent.
const (
	DefaultLow  = 20
	DefaultHigh = 80
)

// Kahan accumulates a compensated sum.
type Kahan struct {
	sum, c float64
}

func (k *Kahan) Add(x float64) {
	y := x - k.c
	t := k.sum + y
	k.c = (t - k.sum) - y
	k.sum = t
}

func (k *Kahan) Sum() float64 { return k.sum }

// Stats summarises a trend.
type Stats struct {
	N        int
	Min, Max float64
	sum      Kahan
}

func (s *Stats) Add(x float64) {
	if s.N == 0 || x < s.Min {
		s.Min = x
	}
	if s.N == 0 || x > s.Max {
		s.Max = x
	}
	s.N++
	s.sum.Add(x)
}

// Avg returns the mean, or NaN for an empty trend.
func (s *Stats) Avg() float64 {
	if s.N == 0 {
		return math.NaN()
	}
	return s.sum.Sum() / float64(s.N)
}

// Trend summarises every sample of a trend waveform.
func Trend(t *waveform.Sparse[float32]) (s Stats) {
	for _, v := range t.Samples {
		s.Add(float64(v))
	}
	return s
}

// Levels returns the voltages at low and high percent of the base to top
// amplitude of s.
func Levels(s waveform.Series[float32], low, high float64) (vlo, vhi float32) {
	base, top := waveform.BaseVoltage(s), waveform.TopVoltage(s)
	amp := float64(top - base)
	return base + float32(amp*low/100), base + float32(amp*high/100)
}

// bands classifies every sample as below vlo (0), between (1) or above vhi
// (2).
func bands(b compute.Backend, s waveform.Series[float32], vlo, vhi float32) ([]int8, error) {
	out := make([]int8, s.Len())
	err := b.Run(len(out), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			switch v := s.Value(i); {
			case v < vlo:
				out[i] = 0
			case v > vhi:
				out[i] = 2
			default:
				out[i] = 1
			}
		}
	})
	return out, err
}

// pushInterval places an event lasting from t0 to t1 (fs) whose value is its
// length in seconds.
func pushInterval(out *waveform.Sparse[float32], t0, t1 int64) {
	tb := out.Timing()
	off := tb.Ticks(t0)
	dur := tb.Ticks(t1) - off
	if dur < 1 {
		dur = 1
	}
	out.Push(off, dur, float32(float64(t1-t0)/float64(waveform.S)))
}

// transitions measures the time from crossing the start threshold to the end
// threshold in one direction. An excursion back past the start threshold
// abandons the edge.
func transitions(s waveform.Series[float32], band []int8, rising bool, vlo, vhi float32) *waveform.Sparse[float32] {
	out := waveform.NewSparseLike[float32](s)

	startThr, endThr := vlo, vhi
	if !rising {
		startThr, endThr = vhi, vlo
	}
	b := func(i int) int8 {
		if rising {
			return band[i]
		}
		return 2 - band[i]
	}

	var t0 int64
	armed := false
	for i := 1; i < len(band); i++ {
		b0, b1 := b(i-1), b(i)
		if b0 == 0 && b1 >= 1 {
			t0 = waveform.CrossingTime(s, i-1, startThr)
			armed = true
		}
		if armed && b0 <= 1 && b1 == 2 {
			pushInterval(out, t0, waveform.CrossingTime(s, i-1, endThr))
			armed = false
		}
		if b1 == 0 {
			armed = false
		}
	}
	return out
}

// RiseTime measures every rising edge of s from low to high percent of the
// amplitude.
func RiseTime(b compute.Backend, s waveform.Series[float32], low, high float64) (*waveform.Sparse[float32], error) {
	vlo, vhi := Levels(s, low, high)
	band, err := bands(b, s, vlo, vhi)
	if err != nil {
		return nil, err
	}
	return transitions(s, band, true, vlo, vhi), nil
}

// FallTime measures every falling edge of s from high to low percent of the
// amplitude.
func FallTime(b compute.Backend, s waveform.Series[float32], low, high float64) (*waveform.Sparse[float32], error) {
	vlo, vhi := Levels(s, low, high)
	band, err := bands(b, s, vlo, vhi)
	if err != nil {
		return nil, err
	}
	return transitions(s, band, false, vlo, vhi), nil
}

// Overshoot returns how far s exceeds its top level and undershoots its base
// level, in percent of the amplitude.
func Overshoot(s waveform.Series[float32]) (over, under float64) {
	base, top := float64(waveform.BaseVoltage(s)), float64(waveform.TopVoltage(s))
	amp := top - base
	if amp <= 0 {
		return 0, 0
	}
	over = (float64(waveform.MaxValue(s)) - top) / amp * 100
	under = (base - float64(waveform.MinValue(s))) / amp * 100
	return math.Max(over, 0), math.Max(under, 0)
}
