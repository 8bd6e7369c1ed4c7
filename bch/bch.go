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

// Package bch computes cyclic code syndromes bit by bit with an LFSR. It
// checks codes whose fields are not byte aligned, such as the CRC7 of SD card
// command frames.
package bch

import (
	"fmt"
)

type BCH struct {
	GenPoly uint
	PolyLen byte
}

// Given a generator polynomial, calculate the polynomial length.
func NewBCH(poly uint) (bch BCH) {
	bch.GenPoly = poly

	p := bch.GenPoly
	for ; bch.PolyLen < 32 && p > 0; bch.PolyLen, p = bch.PolyLen+1, p>>1 {
	}
	bch.PolyLen--

	return
}

func (bch BCH) String() string {
	return fmt.Sprintf("{GenPoly:%X PolyLen:%d}", bch.GenPoly, bch.PolyLen)
}

// Encode computes the syndrome of a string of '0' and '1' characters.
func (bch BCH) Encode(bits string) (checksum uint) {
	for idx := range bits {
		checksum = bch.shift(checksum, bits[idx] == '1')
	}
	return checksum & bch.mask()
}

// EncodeBits computes the syndrome of bits holding one 0/1 value per byte.
func (bch BCH) EncodeBits(bits []byte) (checksum uint) {
	for _, b := range bits {
		checksum = bch.shift(checksum, b != 0)
	}
	return checksum & bch.mask()
}

// Check reports whether bits, which end in their check field, form a code
// word.
func (bch BCH) Check(bits []byte) bool {
	return bch.EncodeBits(bits) == 0
}

// Rotate register and shift in bit. If MSB of register is non-zero XOR with
// generator polynomial.
func (bch BCH) shift(reg uint, bit bool) uint {
	reg <<= 1
	if bit {
		reg |= 1
	}
	if reg>>bch.PolyLen != 0 {
		reg ^= bch.GenPoly
	}
	return reg
}

func (bch BCH) mask() uint {
	return (1 << bch.PolyLen) - 1
}
