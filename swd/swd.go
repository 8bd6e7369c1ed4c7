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

// Package swd decodes ARM Serial Wire Debug transactions from SWCLK and SWDIO.
package swd

import (
	"fmt"

	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/packet"
	"github.com/bemasher/scopedecode/waveform"
)

func init() {
	decode.Register("swd", func() decode.Decoder { return NewDecoder() })
}

// LineResetBits is the minimum number of consecutive ones forming a line
// reset.
const LineResetBits = 50

// Select sequences, sent LSB first directly after a line reset.
const (
	JTAGToSWD    = 0xE79E
	SWDToJTAG    = 0xE73C
	SWDToDormant = 0xE3BC
)

// Acknowledge values.
const (
	AckOK    = 1
	AckWait  = 2
	AckFault = 4
)

type Type int

const (
	Start Type = iota
	APnDP
	RnW
	Address
	ParityOK
	ParityBad
	Stop
	Park
	Turnaround
	Ack
	Data
	LineReset
	ModeChange
	Error
)

var typeNames = [...]string{
	"START", "AP_NDP", "R_NW", "ADDRESS", "PARITY_OK", "PARITY_BAD", "STOP",
	"PARK", "TURNAROUND", "ACK", "DATA", "LINE_RESET", "MODE_CHANGE", "ERROR",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// Symbol is one decoded SWD field. Data holds the field value: the bit for
// single bit fields, the byte address for ADDRESS, the ack code, the data
// word or the select sequence.
type Symbol struct {
	Type Type
	Data uint32
}

func (s Symbol) String() string {
	switch s.Type {
	case Start:
		return "Start"
	case APnDP:
		if s.Data == 1 {
			return "AP"
		}
		return "DP"
	case RnW:
		if s.Data == 1 {
			return "R"
		}
		return "W"
	case Address:
		return fmt.Sprintf("Addr %X", s.Data)
	case ParityOK:
		return "Parity OK"
	case ParityBad:
		return "Parity Bad"
	case Stop:
		return "Stop"
	case Park:
		return "Park"
	case Turnaround:
		return "Turnaround"
	case Ack:
		return AckName(s.Data)
	case Data:
		return fmt.Sprintf("%08X", s.Data)
	case LineReset:
		return "Line Reset"
	case ModeChange:
		return SequenceName(uint16(s.Data))
	}
	return "ERROR"
}

// AckName returns the mnemonic of an acknowledge value.
func AckName(ack uint32) string {
	switch ack {
	case AckOK:
		return "OK"
	case AckWait:
		return "WAIT"
	case AckFault:
		return "FAULT"
	}
	return fmt.Sprintf("ACK %03b", ack)
}

// SequenceName names a select sequence.
func SequenceName(seq uint16) string {
	switch seq {
	case JTAGToSWD:
		return "JTAG-to-SWD"
	case SWDToJTAG:
		return "SWD-to-JTAG"
	case SWDToDormant:
		return "SWD-to-Dormant"
	}
	return fmt.Sprintf("Sequence %04X", seq)
}

// RegisterName names the register a request addresses.
func RegisterName(ap, read bool, addr uint32) string {
	if ap {
		return fmt.Sprintf("AP.%X", addr)
	}
	switch addr {
	case 0x0:
		if read {
			return "DP.IDCODE"
		}
		return "DP.ABORT"
	case 0x4:
		return "DP.CTRL/STAT"
	case 0x8:
		if read {
			return "DP.RESEND"
		}
		return "DP.SELECT"
	case 0xC:
		if read {
			return "DP.RDBUFF"
		}
		return "DP.TARGETSEL"
	}
	return fmt.Sprintf("DP.%X", addr)
}

type state int

const (
	stateIdle state = iota
	stateAPnDP
	stateRnW
	stateAddress
	stateAddrParity
	stateStop
	statePark
	stateTurnaround
	stateAck
	stateAckTurnaround
	stateData
	stateDataParity
	stateReadTurnaround
)

// Decoder decodes SWD. Input 0 is SWCLK, input 1 SWDIO.
type Decoder struct {
	decode.Base
	packet.List
}

func NewDecoder() *Decoder {
	d := &Decoder{}
	d.Init("swd")
	d.CreateInput("SWCLK")
	d.CreateInput("SWDIO")
	d.AddOutputStream(decode.None, "data", decode.Protocol)
	return d
}

func (d *Decoder) Protocol() string { return "SWD" }

func (d *Decoder) ValidateChannel(slot int, s *decode.Stream) bool {
	return slot < 2 && decode.IsDigital(s)
}

func (d *Decoder) HeaderNames() []string {
	return []string{"Op", "Register", "Ack", "Data"}
}

func (d *Decoder) Refresh() {
	d.Reset()

	clk, ok := decode.Input[bool](d.Ports(), 0)
	if !ok {
		d.SetOutput(nil, 0)
		return
	}
	data, ok := decode.Input[bool](d.Ports(), 1)
	if !ok {
		d.SetOutput(nil, 0)
		return
	}

	bits := waveform.SampleOnEdges[bool](data, clk, waveform.EdgeRising)
	out, pkts := Decode(bits)
	for _, p := range pkts {
		d.Push(p)
	}
	d.SetOutput(out, 0)
}

// runEnds returns, for every bit, the index just past the run of ones it
// belongs to. Zero bits map to themselves.
func runEnds(bits *waveform.Sparse[bool]) []int {
	n := bits.Len()
	ends := make([]int, n)
	for i := n - 1; i >= 0; i-- {
		switch {
		case !bits.Samples[i]:
			ends[i] = i
		case i+1 < n && bits.Samples[i+1]:
			ends[i] = ends[i+1]
		default:
			ends[i] = i + 1
		}
	}
	return ends
}

type machine struct {
	bits *waveform.Sparse[bool]
	out  *waveform.Sparse[Symbol]
	pkts []*packet.Packet
	pkt  *packet.Builder

	state  state
	first  int // first bit of the current field
	count  int
	value  uint32
	parity bool

	ap, read bool
	addr     uint32
	ack      uint32
}

// emit covers bits first..last with sym.
func (m *machine) emit(first, last int, sym Symbol) {
	b := m.bits
	m.out.Push(b.Offsets[first], b.Offsets[last]+b.Durations[last]-b.Offsets[first], sym)
}

func (m *machine) end(i int) int64 {
	return waveform.EndScaled(m.bits, i)
}

func (m *machine) finish(i int, c packet.Color) {
	if m.pkt == nil {
		return
	}
	m.pkt.Color(c)
	m.pkts = append(m.pkts, m.pkt.Finish(m.end(i)))
	m.pkt = nil
}

func (m *machine) fail(i int) {
	m.emit(i, i, Symbol{Error, 0})
	m.finish(i, packet.Error)
	m.state = stateIdle
}

// field accumulates bit i, LSB first, into the current n-bit field and
// reports whether the field is complete.
func (m *machine) field(i, n int, v bool) bool {
	if m.count == 0 {
		m.first = i
		m.value = 0
	}
	if v {
		m.value |= 1 << uint(m.count)
	}
	m.count++
	if m.count < n {
		return false
	}
	m.count = 0
	return true
}

func b2u(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// Decode runs the SWD state machine over bits sampled on rising SWCLK.
func Decode(bits *waveform.Sparse[bool]) (*waveform.Sparse[Symbol], []*packet.Packet) {
	m := &machine{bits: bits, out: waveform.NewSparseLike[Symbol](bits)}
	ends := runEnds(bits)

	for i := 0; i < bits.Len(); {
		if end := ends[i]; end-i >= LineResetBits {
			m.finish(i-1, packet.Error)
			m.emit(i, end-1, Symbol{LineReset, 0})
			m.pkts = append(m.pkts, packet.NewBuilder(waveform.OffsetScaled(bits, i)).
				Header("Op", "Line Reset").Color(packet.Control).Finish(m.end(end-1)))
			m.state = stateIdle
			m.count = 0
			i = end

			if i+16 <= bits.Len() {
				var seq uint32
				for k := 0; k < 16; k++ {
					seq |= b2u(bits.Samples[i+k]) << uint(k)
				}
				switch seq {
				case JTAGToSWD, SWDToJTAG, SWDToDormant:
					m.emit(i, i+15, Symbol{ModeChange, seq})
					m.pkts = append(m.pkts, packet.NewBuilder(waveform.OffsetScaled(bits, i)).
						Header("Op", SequenceName(uint16(seq))).Color(packet.Control).Finish(m.end(i+15)))
					i += 16
				}
			}
			continue
		}

		m.step(i, bits.Samples[i])
		i++
	}

	return m.out, m.pkts
}

func (m *machine) step(i int, v bool) {
	switch m.state {
	case stateIdle:
		if !v {
			return
		}
		m.emit(i, i, Symbol{Start, 1})
		m.pkt = packet.NewBuilder(waveform.OffsetScaled(m.bits, i))
		m.parity = false
		m.count = 0
		m.state = stateAPnDP

	case stateAPnDP:
		m.ap = v
		m.parity = v
		m.emit(i, i, Symbol{APnDP, b2u(v)})
		m.state = stateRnW

	case stateRnW:
		m.read = v
		m.parity = m.parity != v
		m.emit(i, i, Symbol{RnW, b2u(v)})
		if v {
			m.pkt.Header("Op", "Read")
		} else {
			m.pkt.Header("Op", "Write")
		}
		m.state = stateAddress

	case stateAddress:
		m.parity = m.parity != v
		if !m.field(i, 2, v) {
			return
		}
		m.addr = m.value << 2
		m.emit(m.first, i, Symbol{Address, m.addr})
		m.pkt.Header("Register", RegisterName(m.ap, m.read, m.addr))
		m.state = stateAddrParity

	case stateAddrParity:
		m.checkParity(i, v)
		m.state = stateStop

	case stateStop:
		if v {
			m.fail(i)
			return
		}
		m.emit(i, i, Symbol{Stop, 0})
		m.state = statePark

	case statePark:
		if !v {
			m.fail(i)
			return
		}
		m.emit(i, i, Symbol{Park, 1})
		m.state = stateTurnaround

	case stateTurnaround:
		m.emit(i, i, Symbol{Turnaround, b2u(v)})
		m.state = stateAck

	case stateAck:
		if !m.field(i, 3, v) {
			return
		}
		m.ack = m.value
		switch m.ack {
		case AckOK, AckWait, AckFault:
			m.emit(m.first, i, Symbol{Ack, m.ack})
			m.pkt.Header("Ack", AckName(m.ack))
			m.state = stateAckTurnaround
		default:
			m.emit(m.first, i, Symbol{Error, m.ack})
			m.pkt.Header("Ack", AckName(m.ack))
			m.finish(i, packet.Error)
			m.state = stateIdle
		}

	case stateAckTurnaround:
		m.emit(i, i, Symbol{Turnaround, b2u(v)})
		if m.ack != AckOK {
			m.finish(i, packet.Status)
			m.state = stateIdle
			return
		}
		m.parity = false
		m.state = stateData

	case stateData:
		m.parity = m.parity != v
		if !m.field(i, 32, v) {
			return
		}
		m.emit(m.first, i, Symbol{Data, m.value})
		m.pkt.Headerf("Data", "%08X", m.value)
		m.pkt.Append(byte(m.value), byte(m.value>>8), byte(m.value>>16), byte(m.value>>24))
		m.state = stateDataParity

	case stateDataParity:
		ok := m.checkParity(i, v)
		switch {
		case !ok:
			m.finish(i, packet.Error)
		case m.read:
			m.finish(i, packet.DataRead)
		default:
			m.finish(i, packet.DataWrite)
		}
		if m.read {
			m.state = stateReadTurnaround
		} else {
			m.state = stateIdle
		}

	case stateReadTurnaround:
		m.emit(i, i, Symbol{Turnaround, b2u(v)})
		m.state = stateIdle
	}
}

// checkParity compares the transmitted parity bit v with the running even
// parity.
func (m *machine) checkParity(i int, v bool) bool {
	if v == m.parity {
		m.emit(i, i, Symbol{ParityOK, b2u(v)})
		return true
	}
	m.emit(i, i, Symbol{ParityBad, b2u(v)})
	return false
}
