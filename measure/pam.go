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
	"fmt"

	"github.com/bemasher/scopedecode/compute"
	"github.com/bemasher/scopedecode/waveform"
	"golang.org/x/xerrors"
)

// Transition is a change between PAM levels, numbered from the lowest.
type Transition struct {
	From, To int
}

func (t Transition) String() string {
	return fmt.Sprintf("%d->%d", t.From, t.To)
}

// Classify maps v to the index of the nearest level, using the midpoints
// between adjacent levels as decision thresholds.
func Classify(levels []float32, v float32) (idx int) {
	for k := 1; k < len(levels); k++ {
		if v > (levels[k-1]+levels[k])/2 {
			idx = k
		}
	}
	return idx
}

// PAMEdges finds n signal levels of s and reports every change of level at the
// interpolated crossing of the midpoint between the two levels. Each
// transition lasts until the next one.
func PAMEdges(b compute.Backend, s waveform.Series[float32], n int) (*waveform.Sparse[Transition], []float32, error) {
	if n < 2 {
		return nil, nil, xerrors.Errorf("measure: %d PAM levels", n)
	}
	levels := waveform.AutoLevels(s, n)
	if len(levels) != n {
		return nil, levels, xerrors.Errorf("measure: found %d of %d PAM levels", len(levels), n)
	}

	idx := make([]int, s.Len())
	err := b.Run(len(idx), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			idx[i] = Classify(levels, s.Value(i))
		}
	})
	if err != nil {
		return nil, levels, xerrors.Errorf("measure: %w", err)
	}

	out := waveform.NewSparseLike[Transition](s)
	tb := out.Timing()
	for i := 1; i < len(idx); i++ {
		from, to := idx[i-1], idx[i]
		if from == to {
			continue
		}

		mid := (levels[from] + levels[to]) / 2
		t0 := waveform.OffsetScaled(s, i-1)
		f := waveform.InterpolateTime(s, i-1, mid)
		at := tb.TicksRound(float64(t0) + float64(f)*float64(waveform.OffsetScaled(s, i)-t0))

		if k := out.Len(); k > 0 {
			out.Durations[k-1] = at - out.Offsets[k-1]
		}
		out.Push(at, 0, Transition{from, to})
	}

	if k := out.Len(); k > 0 {
		_, end := waveform.Span(s)
		out.Durations[k-1] = tb.Ticks(end) - out.Offsets[k-1]
	}
	return out, levels, nil
}
