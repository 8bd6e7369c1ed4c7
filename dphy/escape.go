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

package dphy

import (
	"fmt"

	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/packet"
	"github.com/bemasher/scopedecode/waveform"
)

func init() {
	decode.Register("dphy-escape", func() decode.Decoder { return NewEscapeDecoder() })
}

// Escape mode entry commands, first bit MSB.
const (
	CmdLPDT     = 0xE1
	CmdULPS     = 0x1E
	CmdReset    = 0x62
	CmdUnknown3 = 0x5D
	CmdUnknown4 = 0x21
	CmdUnknown5 = 0xA0
)

// CommandName returns the mnemonic of an entry command.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdLPDT:
		return "LPDT"
	case CmdULPS:
		return "ULPS"
	case CmdReset:
		return "Reset-Trigger"
	case CmdUnknown3:
		return "Unknown-3"
	case CmdUnknown4:
		return "Unknown-4"
	case CmdUnknown5:
		return "Unknown-5"
	}
	return fmt.Sprintf("Unknown %02X", cmd)
}

type EscapeType int

const (
	Entry EscapeType = iota
	Command
	Data
	Exit
	Error
)

var escapeNames = [...]string{"ENTRY", "COMMAND", "DATA", "EXIT", "ERROR"}

func (t EscapeType) String() string {
	if t < 0 || int(t) >= len(escapeNames) {
		return fmt.Sprintf("EscapeType(%d)", int(t))
	}
	return escapeNames[t]
}

// EscapeSymbol is one escape mode event. Data holds the command or data byte.
type EscapeSymbol struct {
	Type EscapeType
	Data byte
}

func (s EscapeSymbol) String() string {
	switch s.Type {
	case Entry:
		return "Escape"
	case Command:
		return CommandName(s.Data)
	case Data:
		return fmt.Sprintf("%02X", s.Data)
	case Exit:
		return "Exit"
	}
	return "ERROR"
}

type escState int

const (
	escIdle escState = iota
	escEntry
	escCommand
	escData
	escUnknown
)

// LP-10 is seen first; the rest of the entry sequence follows.
var entrySequence = [...]Symbol{LP00, LP01, LP00}

// EscapeDecoder consumes the line states of a Decoder and reports escape mode
// entries, their command and any low power data.
type EscapeDecoder struct {
	decode.Base
	packet.List
}

func NewEscapeDecoder() *EscapeDecoder {
	d := &EscapeDecoder{}
	d.Init("dphy-escape")
	d.CreateInput("state")
	d.AddOutputStream(decode.None, "escape", decode.Protocol)
	return d
}

func (d *EscapeDecoder) Protocol() string { return "D-PHY Escape" }

func (d *EscapeDecoder) ValidateChannel(slot int, s *decode.Stream) bool {
	if slot != 0 || s == nil || s.Kind != decode.Protocol {
		return false
	}
	if s.Data == nil {
		return true
	}
	_, ok := waveform.As[Symbol](s.Data)
	return ok
}

func (d *EscapeDecoder) HeaderNames() []string {
	return []string{"Command", "Len"}
}

func (d *EscapeDecoder) Refresh() {
	d.Reset()

	in, ok := decode.Input[Symbol](d.Ports(), 0)
	if !ok {
		d.SetOutput(nil, 0)
		return
	}

	m := &escMachine{in: in, out: waveform.NewSparseLike[EscapeSymbol](in)}
	m.run()

	for _, p := range m.pkts {
		d.Push(p)
	}
	d.SetOutput(m.out, 0)
}

type escMachine struct {
	in   waveform.Series[Symbol]
	out  *waveform.Sparse[EscapeSymbol]
	pkts []*packet.Packet
	pkt  *packet.Builder

	state escState
	ready bool // LP-11 seen since the last sequence
	step  int
	start int // first input index of the symbol being assembled

	cmd     byte
	value   byte
	nbits   int
	pending bool // a mark is waiting for its LP-00 space
	bit     byte
	nbytes  int
}

func (m *escMachine) end(i int) int64 {
	return m.in.Offset(i) + m.in.Duration(i)
}

func (m *escMachine) emit(from, to int, sym EscapeSymbol) {
	off := m.in.Offset(from)
	m.out.Push(off, m.end(to)-off, sym)
}

func (m *escMachine) run() {
	for i := 0; i < m.in.Len(); i++ {
		s := m.in.Value(i)
		if i > 0 && s == m.in.Value(i-1) {
			continue
		}

		if s == LP11 {
			if m.state != escIdle && m.state != escEntry {
				m.emit(m.exitStart(i), i, EscapeSymbol{Exit, 0})
				m.finish(i, m.color())
			}
			m.reset()
			m.ready = true
			continue
		}

		if !s.LP() && m.state != escIdle {
			m.fail(i)
			continue
		}

		switch m.state {
		case escIdle:
			if s == LP10 && m.ready {
				m.state, m.step, m.start = escEntry, 0, i
			}
			m.ready = false

		case escEntry:
			if s != entrySequence[m.step] {
				m.fail(i)
				continue
			}
			m.step++
			if m.step < len(entrySequence) {
				continue
			}
			m.emit(m.start, i, EscapeSymbol{Entry, 0})
			m.pkt = packet.NewBuilder(waveform.OffsetScaled(m.in, m.start))
			m.state, m.nbits, m.cmd, m.pending = escCommand, 0, 0, false

		case escCommand, escData:
			m.mark(i, s)

		case escUnknown:
			// Wait for LP-11.
		}
	}

	if m.pkt != nil {
		m.finish(m.in.Len()-1, packet.Error)
	}
}

// mark assembles spaced one-hot bits: LP-10 is a one, LP-01 a zero and each
// is followed by an LP-00 space.
func (m *escMachine) mark(i int, s Symbol) {
	switch s {
	case LP10, LP01:
		if m.pending {
			m.fail(i)
			return
		}
		if m.nbits == 0 {
			m.start = i
		}
		m.pending = true
		m.bit = 0
		if s == LP10 {
			m.bit = 1
		}
		return
	case LP00:
		if !m.pending {
			m.fail(i)
			return
		}
		m.pending = false
	}

	if m.state == escCommand {
		m.cmd = m.cmd<<1 | m.bit
	} else {
		m.value |= m.bit << uint(m.nbits)
	}
	m.nbits++
	if m.nbits < 8 {
		return
	}

	if m.state == escCommand {
		m.emit(m.start, i, EscapeSymbol{Command, m.cmd})
		m.pkt.Header("Command", CommandName(m.cmd))
		m.state = escUnknown
		if m.cmd == CmdLPDT {
			m.state = escData
		}
	} else {
		m.emit(m.start, i, EscapeSymbol{Data, m.value})
		m.pkt.Append(m.value)
		m.nbytes++
	}
	m.nbits, m.value = 0, 0
}

// exitStart is where the exit began: the unanswered LP-10 mark before LP-11
// or LP-11 itself.
func (m *escMachine) exitStart(i int) int {
	if m.pending && i > 0 && m.in.Value(i-1) == LP10 {
		return i - 1
	}
	return i
}

func (m *escMachine) color() packet.Color {
	switch {
	case m.state == escData:
		return packet.DataWrite
	case m.state == escCommand:
		return packet.Error
	}
	return packet.Control
}

func (m *escMachine) fail(i int) {
	m.emit(i, i, EscapeSymbol{Error, 0})
	if m.pkt != nil {
		m.finish(i, packet.Error)
	}
	m.reset()
}

func (m *escMachine) finish(i int, c packet.Color) {
	if m.state == escData {
		m.pkt.Headerf("Len", "%d", m.nbytes)
	}
	m.pkts = append(m.pkts, m.pkt.Color(c).Finish(waveform.EndScaled(m.in, i)))
	m.pkt = nil
}

func (m *escMachine) reset() {
	m.state = escIdle
	m.ready = false
	m.pending = false
	m.nbits, m.value, m.nbytes = 0, 0, 0
}
