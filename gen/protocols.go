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

package gen

import (
	"encoding/binary"

	"github.com/bemasher/scopedecode/crc"
	"github.com/bemasher/scopedecode/waveform"
)

// Idle returns n zero bits.
func Idle(n int) []byte {
	return make([]byte, n)
}

// Ones returns n one bits.
func Ones(n int) []byte {
	bits := make([]byte, n)
	for i := range bits {
		bits[i] = 1
	}
	return bits
}

func bit(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func parity(v uint64) (p byte) {
	for ; v != 0; v >>= 1 {
		p ^= byte(v & 1)
	}
	return p
}

// SWDTransaction returns the wire bits of one SWD transaction as sampled on
// rising SWCLK: request, turnaround, ack, turnaround and, for an OK ack, the
// data word and its parity.
func SWDTransaction(ap, read bool, addr uint8, ack uint8, data uint32) []byte {
	apb, rb := bit(ap), bit(read)
	a2, a3 := (addr>>2)&1, (addr>>3)&1

	bits := []byte{1, apb, rb, a2, a3, apb ^ rb ^ a2 ^ a3, 0, 1}
	bits = append(bits, 1)
	bits = append(bits, UnpackBitsLSB(uint64(ack), 3)...)
	bits = append(bits, 1)
	if ack != 1 {
		return bits
	}

	bits = append(bits, UnpackBitsLSB(uint64(data), 32)...)
	return append(bits, parity(uint64(data)))
}

// SWDSequence returns a 16-bit select sequence, LSB first.
func SWDSequence(seq uint16) []byte {
	return UnpackBitsLSB(uint64(seq), 16)
}

var crc7 = crc.NewCRCWidth("CRC7", 7, 0, 0x09, 0)

// CRC7 returns the SD card CRC7 of data.
func CRC7(data []byte) byte {
	return byte(crc7.Checksum(data))
}

// SDCommand returns the 48 bits of a host command frame.
func SDCommand(index uint8, arg uint32) []byte {
	frame := make([]byte, 6)
	frame[0] = 0x40 | index&0x3F
	binary.BigEndian.PutUint32(frame[1:5], arg)
	frame[5] = CRC7(frame[:5])<<1 | 1
	return UnpackBits(frame)
}

// SDResponse returns the 48 bits of a short card response. Without a CRC the
// check field is all ones, as in R3.
func SDResponse(index uint8, arg uint32, withCRC bool) []byte {
	frame := make([]byte, 6)
	frame[0] = index & 0x3F
	binary.BigEndian.PutUint32(frame[1:5], arg)
	frame[5] = 0xFF
	if withCRC {
		frame[5] = CRC7(frame[:5])<<1 | 1
	}
	return UnpackBits(frame)
}

// SDLongResponse returns the 136 bits of an R2 response carrying the first
// 15 bytes of a CID or CSD register. The CRC7 and end bit are computed.
func SDLongResponse(reg []byte) []byte {
	frame := make([]byte, 17)
	frame[0] = 0x3F
	copy(frame[1:16], reg)
	frame[16] = CRC7(frame[1:16])<<1 | 1
	return UnpackBits(frame)
}

// HyperRAM lane names.
const (
	HyperCK   = "CK"
	HyperCS   = "CS#"
	HyperRWDS = "RWDS"
	HyperDQ   = "DQ"
)

// HyperRAM renders one HyperBus transaction. Every clock half cycle lasts two
// ticks. latency is the total number of clock cycles between the command and
// the first data byte; doubled only drives RWDS high during CA as the memory
// would when it requests twice its base latency. For reads the memory toggles
// RWDS once per data byte, edge aligned with the data; writes are center
// aligned with CK.
func HyperRAM(tb waveform.Timebase, ca uint64, latency int, doubled bool, data []byte) *Bus {
	b := NewBus(tb, HyperCK, HyperCS, HyperRWDS)
	for i := 0; i < 8; i++ {
		b.Set(HyperDQ+string(rune('0'+i)), 0, false)
	}
	b.Set(HyperCS, 0, true)

	b.Set(HyperCS, 4, false)
	b.Set(HyperRWDS, 4, doubled)

	// Command/address, both clock edges, MSB first.
	for k := 0; k < 6; k++ {
		t := 8 + 2*k
		b.SetBits(HyperDQ, 8, t-1, ca>>uint(40-8*k)&0xFF)
		b.Set(HyperCK, t, k%2 == 0)
	}
	b.Set(HyperRWDS, 19, false)

	// Rising edges of the latency count.
	last := 18
	for i := 0; i < latency; i++ {
		last = 20 + 4*i
		b.Set(HyperCK, last-2, false)
		b.Set(HyperCK, last, true)
	}

	read := ca>>47&1 == 1
	ck := last%4 == 0
	rwds := false
	t := last
	for _, v := range data {
		t += 2
		ck = !ck
		b.Set(HyperCK, t, ck)
		if read {
			rwds = !rwds
			b.Set(HyperRWDS, t, rwds)
			b.SetBits(HyperDQ, 8, t, uint64(v))
		} else {
			b.SetBits(HyperDQ, 8, t-1, uint64(v))
		}
	}

	b.Set(HyperCS, t+2, true)
	b.Set(HyperCK, t+2, false)
	b.Extend(t + 6)
	return b
}

// D-PHY line levels in volts.
var dphyLevels = map[string][2]float32{
	"LP11": {1.2, 1.2},
	"LP10": {1.2, 0},
	"LP01": {0, 1.2},
	"LP00": {0, 0},
	"HS0":  {0.1, 0.3},
	"HS1":  {0.3, 0.1},
}

// DPHYState is a D-PHY line state held for Ticks samples.
type DPHYState struct {
	State string
	Ticks int
}

// DPHY renders analog Dp and Dn waveforms for a sequence of line states.
func DPHY(tb waveform.Timebase, states []DPHYState) (dp, dn *waveform.Uniform[float32]) {
	dp = &waveform.Uniform[float32]{Timebase: tb}
	dn = &waveform.Uniform[float32]{Timebase: tb}
	for _, s := range states {
		lv, ok := dphyLevels[s.State]
		if !ok {
			panic("gen: unknown D-PHY state " + s.State)
		}
		for i := 0; i < s.Ticks; i++ {
			dp.Samples = append(dp.Samples, lv[0])
			dn.Samples = append(dn.Samples, lv[1])
		}
	}
	return dp, dn
}

// DPHYEscape returns the line states of an escape mode sequence: entry,
// the spaced one-hot command (first bit MSB), the payload bytes (LSB first)
// and the exit back to LP-11. Every state lasts ticks samples.
func DPHYEscape(cmd byte, payload []byte, ticks int) (states []DPHYState) {
	push := func(name string) {
		states = append(states, DPHYState{name, ticks})
	}
	mark := func(b byte) {
		if b == 1 {
			push("LP10")
		} else {
			push("LP01")
		}
		push("LP00")
	}

	push("LP11")
	push("LP10")
	push("LP00")
	push("LP01")
	push("LP00")
	for _, b := range UnpackBitsMSB(uint64(cmd), 8) {
		mark(b)
	}
	for _, v := range payload {
		for _, b := range UnpackBitsLSB(uint64(v), 8) {
			mark(b)
		}
	}
	push("LP10")
	push("LP11")
	return states
}

// AutonegPage returns the half-bit stream of one Clause 73 page: the 8 bit
// delimiter followed by the 49 page bits (LSB first), differential Manchester
// coded so every bit cell starts with a transition and ones transition again
// mid cell.
func AutonegPage(page uint64, delimiter byte) []byte {
	bits := UnpackBitsMSB(uint64(delimiter), 8)
	level := bits[len(bits)-1]
	for _, b := range UnpackBitsLSB(page, 49) {
		level ^= 1
		bits = append(bits, level)
		if b == 1 {
			level ^= 1
		}
		bits = append(bits, level)
	}
	return bits
}

// Parallel renders words on lanes D0..D(width-1). With a clock each word is
// presented for two ticks on lane CLK, rising in the middle; without one the
// data lanes simply change every two ticks.
func Parallel(tb waveform.Timebase, width int, clocked bool, words []uint32) *Bus {
	b := NewBus(tb)
	if clocked {
		b.Set("CLK", 0, false)
	}
	b.SetBits("D", width, 0, 0)

	t := 2
	for _, w := range words {
		b.SetBits("D", width, t, uint64(w))
		if clocked {
			b.Set("CLK", t, false)
			b.Set("CLK", t+1, true)
		}
		t += 2
	}
	if clocked {
		b.Set("CLK", t, false)
	}
	b.Extend(t + 2)
	return b
}
