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

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultBins is the histogram resolution used by the two-level estimators.
const DefaultBins = 100

// Histogram bins the values of s into n equal-width bins spanning the sample
// range. It returns the counts, the lower edge and the bin width.
func Histogram(s Series[float32], n int) (counts []float64, lo, width float64) {
	if s.Len() == 0 || n <= 0 {
		return nil, 0, 0
	}

	x := make([]float64, s.Len())
	for i := range x {
		x[i] = float64(s.Value(i))
	}
	sort.Float64s(x)

	lo, hi := x[0], x[len(x)-1]
	if hi == lo {
		counts = make([]float64, n)
		counts[0] = float64(len(x))
		return counts, lo, 0
	}

	dividers := floats.Span(make([]float64, n+1), lo, hi)
	dividers[n] = math.Nextafter(hi, math.Inf(1))

	return stat.Histogram(nil, dividers, x, nil), lo, (hi - lo) / float64(n)
}

func binCenter(lo, width float64, i int) float32 {
	return float32(lo + (float64(i)+0.5)*width)
}

// BaseVoltage returns the center of the dominant histogram peak in the lowest
// quartile of the sample range.
func BaseVoltage(s Series[float32]) float32 {
	counts, lo, width := Histogram(s, DefaultBins)
	if counts == nil {
		return 0
	}
	if width == 0 {
		return float32(lo)
	}
	return binCenter(lo, width, floats.MaxIdx(counts[:DefaultBins/4]))
}

// TopVoltage returns the center of the dominant histogram peak in the highest
// quartile of the sample range.
func TopVoltage(s Series[float32]) float32 {
	counts, lo, width := Histogram(s, DefaultBins)
	if counts == nil {
		return 0
	}
	if width == 0 {
		return float32(lo)
	}
	q := DefaultBins - DefaultBins/4
	return binCenter(lo, width, q+floats.MaxIdx(counts[q:]))
}

// AutoLevels estimates the n dominant signal levels of a multi-level (PAM)
// signal. Peaks are the locally maximal bins of a fine histogram, refined by a
// count-weighted average over their neighbourhood. The result is ascending and
// may hold fewer than n levels for signals without enough distinct peaks.
func AutoLevels(s Series[float32], n int) []float32 {
	const bins = 256
	const radius = 2

	counts, lo, width := Histogram(s, bins)
	if counts == nil {
		return nil
	}
	if width == 0 {
		return []float32{float32(lo)}
	}

	var peaks []int
	for i, c := range counts {
		if c == 0 {
			continue
		}
		if i > 0 && counts[i-1] >= c {
			continue
		}
		if i+1 < len(counts) && counts[i+1] > c {
			continue
		}
		peaks = append(peaks, i)
	}

	sort.SliceStable(peaks, func(a, b int) bool {
		return counts[peaks[a]] > counts[peaks[b]]
	})

	// Noise splits a level into several local maxima; keep the tallest one
	// within each neighbourhood.
	sep := bins / (4 * n)
	if sep < radius {
		sep = radius
	}
	var kept []int
	for _, p := range peaks {
		if len(kept) == n {
			break
		}
		near := false
		for _, k := range kept {
			if d := p - k; d < sep && d > -sep {
				near = true
				break
			}
		}
		if !near {
			kept = append(kept, p)
		}
	}
	peaks = kept

	levels := make([]float32, 0, len(peaks))
	for _, p := range peaks {
		var sum, weight float64
		for i := p - radius; i <= p+radius; i++ {
			if i < 0 || i >= len(counts) {
				continue
			}
			sum += counts[i] * (lo + (float64(i)+0.5)*width)
			weight += counts[i]
		}
		levels = append(levels, float32(sum/weight))
	}

	sort.Slice(levels, func(a, b int) bool { return levels[a] < levels[b] })
	return levels
}

// MinValue returns the smallest sample of s.
func MinValue(s Series[float32]) float32 {
	v := float32(math.Inf(1))
	for i := 0; i < s.Len(); i++ {
		if x := s.Value(i); x < v {
			v = x
		}
	}
	return v
}

// MaxValue returns the largest sample of s.
func MaxValue(s Series[float32]) float32 {
	v := float32(math.Inf(-1))
	for i := 0; i < s.Len(); i++ {
		if x := s.Value(i); x > v {
			v = x
		}
	}
	return v
}
