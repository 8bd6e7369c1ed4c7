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

package acquire

import (
	"math"

	"github.com/bemasher/scopedecode/waveform"
)

// MagLUT holds the squared distance of every unsigned 8-bit sample from the
// 127.4 midpoint.
type MagLUT []float64

func NewMagLUT() (lut MagLUT) {
	lut = make([]float64, 0x100)
	for idx := range lut {
		lut[idx] = 127.4 - float64(idx)
		lut[idx] *= lut[idx]
	}
	return
}

// Execute computes the magnitude of interleaved IQ input into output, which
// holds half as many samples.
func (lut MagLUT) Execute(input []byte, output []float32) {
	for idx := range output {
		lutIdx := idx << 1
		output[idx] = float32(math.Sqrt(lut[input[lutIdx]] + lut[input[lutIdx+1]]))
	}
}

// Demodulate returns the magnitude of an IQ block as a uniform waveform.
func (lut MagLUT) Demodulate(block []byte, tb waveform.Timebase) *waveform.Uniform[float32] {
	mag := &waveform.Uniform[float32]{Timebase: tb, Samples: make([]float32, len(block)>>1)}
	lut.Execute(block, mag.Samples)
	return mag
}
