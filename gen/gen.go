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

// Package gen synthesizes captures: on-off keyed IQ streams like those an
// rtl-sdr delivers, and multi-lane digital or analog traces carrying protocol
// traffic. Tests and the generator acquisition source use it.
package gen

import (
	"fmt"
	"math"
)

type ManchesterLUT [16]byte

func NewManchesterLUT() ManchesterLUT {
	return ManchesterLUT{
		85, 86, 89, 90, 101, 102, 105, 106, 149, 150, 153, 154, 165, 166, 169, 170,
	}
}

func (lut ManchesterLUT) Encode(data []byte) (manchester []byte) {
	manchester = make([]byte, len(data)<<1)

	for idx := range data {
		manchester[idx<<1] = lut[data[idx]>>4]
		manchester[idx<<1+1] = lut[data[idx]&0x0F]
	}

	return
}

// UnpackBits expands each byte into eight 0/1 values, MSB first.
func UnpackBits(data []byte) []byte {
	bits := make([]byte, len(data)<<3)

	for idx, b := range data {
		offset := idx << 3
		for bit := 7; bit >= 0; bit-- {
			bits[offset+(7-bit)] = (b >> uint8(bit)) & 0x01
		}
	}

	return bits
}

// UnpackBitsLSB expands the low n bits of v, LSB first.
func UnpackBitsLSB(v uint64, n int) []byte {
	bits := make([]byte, n)
	for i := range bits {
		bits[i] = byte(v>>uint(i)) & 1
	}
	return bits
}

// UnpackBitsMSB expands the low n bits of v, MSB first.
func UnpackBitsMSB(v uint64, n int) []byte {
	bits := make([]byte, n)
	for i := range bits {
		bits[i] = byte(v>>uint(n-1-i)) & 1
	}
	return bits
}

func Upsample(bits []byte, factor int) []byte {
	signal := make([]byte, len(bits)*factor)

	for idx, b := range bits {
		offset := idx * factor
		for i := 0; i < factor; i++ {
			signal[offset+i] = b
		}
	}

	return signal
}

func CmplxOscillatorU8(samples int, freq float64, samplerate float64) []uint8 {
	signal := make([]uint8, samples<<1)

	for idx := 0; idx < samples<<1; idx += 2 {
		s, c := math.Sincos(2 * math.Pi * float64(idx) * freq / samplerate)
		signal[idx] = uint8(s*127.5 + 127.5)
		signal[idx+1] = uint8(c*127.5 + 127.5)
	}

	return signal
}

func CmplxOscillatorF64(samples int, freq float64, samplerate float64) []float64 {
	signal := make([]float64, samples<<1)

	for idx := 0; idx < len(signal); idx += 2 {
		signal[idx], signal[idx+1] = math.Sincos(2 * math.Pi * float64(idx) * freq / samplerate)
	}

	return signal
}

func F64toU8(f64 []float64, u8 []byte) {
	if len(f64) != len(u8) {
		panic(fmt.Errorf("arrays must have same dimensions: %d != %d", len(f64), len(u8)))
	}

	for idx, val := range f64 {
		u8[idx] = uint8(val*127.5 + 127.5)
	}
}

// OOK returns interleaved unsigned 8-bit IQ samples of data Manchester coded
// and on-off keyed onto a tone at freq. Each chip lasts chipLength samples and
// the carrier is scaled by amplitude (0..1) while keyed.
func OOK(data []byte, chipLength int, amplitude, freq, samplerate float64) []uint8 {
	chips := Upsample(UnpackBits(NewManchesterLUT().Encode(data)), chipLength)

	signal := CmplxOscillatorF64(len(chips), freq, samplerate)
	for idx, chip := range chips {
		a := amplitude * float64(chip)
		signal[idx<<1] *= a
		signal[idx<<1+1] *= a
	}

	iq := make([]uint8, len(signal))
	F64toU8(signal, iq)
	return iq
}
