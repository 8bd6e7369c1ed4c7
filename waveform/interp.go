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

// InterpolateTime returns the fractional position in [0, 1) between samples i
// and i+1 at which the signal crosses threshold. It returns 0 when the two
// samples do not strictly straddle the threshold.
func InterpolateTime(s Series[float32], i int, threshold float32) float32 {
	if i < 0 || i+1 >= s.Len() {
		return 0
	}

	a, b := s.Value(i), s.Value(i+1)
	if !(a < threshold && b > threshold) && !(a > threshold && b < threshold) {
		return 0
	}

	f := (threshold - a) / (b - a)
	if f >= 1 {
		f = math.Nextafter32(1, 0)
	}
	return f
}

// CrossingTime returns the interpolated time (fs) at which the signal crosses
// threshold between samples i and i+1.
func CrossingTime(s Series[float32], i int, threshold float32) int64 {
	t0 := OffsetScaled(s, i)
	if i+1 >= s.Len() {
		return t0
	}
	t1 := OffsetScaled(s, i+1)
	f := InterpolateTime(s, i, threshold)
	return t0 + int64(math.Round(float64(f)*float64(t1-t0)))
}

// ZeroCrossings returns the interpolated times (fs) of every crossing of
// threshold, in either direction.
func ZeroCrossings(s Series[float32], threshold float32) (times []int64) {
	if s.Len() < 2 {
		return nil
	}

	above := s.Value(0) > threshold
	for i := 0; i+1 < s.Len(); i++ {
		next := s.Value(i + 1)
		switch {
		case above && next < threshold, !above && next > threshold:
			times = append(times, CrossingTime(s, i, threshold))
			above = next > threshold
		}
	}
	return times
}

// NearestValue returns the sample of s active at time t (fs) using a forward
// only cursor, which the caller keeps between calls.
func NearestValue[T any](s Series[T], cursor *int, t int64) T {
	AdvanceToTimestamp(s, cursor, t)
	return s.Value(*cursor)
}

// LinearValue returns the linearly interpolated value of s at time t (fs).
func LinearValue(s Series[float32], cursor *int, t int64) float32 {
	AdvanceToTimestamp(s, cursor, t)
	i := *cursor
	if i+1 >= s.Len() {
		return s.Value(i)
	}
	t0, t1 := OffsetScaled(s, i), OffsetScaled(s, i+1)
	if t <= t0 || t1 == t0 {
		return s.Value(i)
	}
	f := float32(t-t0) / float32(t1-t0)
	return s.Value(i) + f*(s.Value(i+1)-s.Value(i))
}
