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

// Edge selects which clock transitions to sample on.
type Edge int

const (
	EdgeRising Edge = 1 << iota
	EdgeFalling
	EdgeBoth = EdgeRising | EdgeFalling
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	}
	return "none"
}

// Edges returns the indices of samples of clk that start with a transition of
// the requested kind. The first sample is never an edge.
func Edges(clk Series[bool], kind Edge) (idx []int) {
	for i := 1; i < clk.Len(); i++ {
		prev, cur := clk.Value(i-1), clk.Value(i)
		switch {
		case !prev && cur && kind&EdgeRising != 0:
			idx = append(idx, i)
		case prev && !cur && kind&EdgeFalling != 0:
			idx = append(idx, i)
		}
	}
	return idx
}

// SampleOnEdges samples data at each selected edge of clk. Each output sample
// starts at its edge and lasts until the next selected edge (the last one
// until the end of clk). The output shares clk's timebase. Edges before data's
// first sample are skipped.
func SampleOnEdges[T any](data Series[T], clk Series[bool], kind Edge) *Sparse[T] {
	out := NewSparseLike[T](clk)
	if data.Len() == 0 {
		return out
	}

	edges := Edges(clk, kind)
	last := clk.Offset(clk.Len()-1) + clk.Duration(clk.Len()-1)
	first := OffsetScaled(data, 0)

	di := 0
	for k, ci := range edges {
		t := OffsetScaled(clk, ci)
		if t < first {
			continue
		}
		AdvanceToTimestamp(data, &di, t)

		end := last
		if k+1 < len(edges) {
			end = clk.Offset(edges[k+1])
		}
		off := clk.Offset(ci)
		out.Push(off, end-off, data.Value(di))
	}

	return out
}
