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

// Package crc implements table driven CRCs of up to 16 bits over whole bytes.
// Narrow CRCs run in the top bits of a 16-bit register.
package crc

import "fmt"

type CRC struct {
	Name    string
	Width   uint
	Init    uint16
	Poly    uint16
	Residue uint16

	tbl Table
}

// NewCRC returns a 16-bit CRC.
func NewCRC(name string, init, poly, residue uint16) (crc CRC) {
	return NewCRCWidth(name, 16, init, poly, residue)
}

// NewCRCWidth returns a CRC of the given width (1-16 bits). Init, Poly and
// Residue are given right aligned, as usually published.
func NewCRCWidth(name string, width uint, init, poly, residue uint16) (crc CRC) {
	if width == 0 || width > 16 {
		panic(fmt.Sprintf("crc: invalid width %d", width))
	}

	crc.Name = name
	crc.Width = width
	crc.Init = init
	crc.Poly = poly
	crc.Residue = residue
	crc.tbl = NewTable(poly << (16 - width))

	return
}

func (crc CRC) String() string {
	return fmt.Sprintf("{Name:%s Width:%d Init:0x%04X Poly:0x%04X Residue:0x%04X}",
		crc.Name, crc.Width, crc.Init, crc.Poly, crc.Residue,
	)
}

// Checksum returns the right aligned CRC of data.
func (crc CRC) Checksum(data []byte) uint16 {
	shift := 16 - crc.Width
	return Checksum(crc.Init<<shift, data, crc.tbl) >> shift
}

// Check reports whether data, with its CRC appended, leaves the residue.
func (crc CRC) Check(data []byte) bool {
	return crc.Checksum(data) == crc.Residue
}

type Table [256]uint16

func NewTable(poly uint16) (table Table) {
	for tIdx := range table {
		crc := uint16(tIdx) << 8
		for bIdx := 0; bIdx < 8; bIdx++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc = crc << 1
			}
		}
		table[tIdx] = crc
	}
	return table
}

func Checksum(init uint16, data []byte, table Table) (crc uint16) {
	crc = init
	for _, v := range data {
		crc = crc<<8 ^ table[crc>>8^uint16(v)]
	}
	return
}
