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

// Package sdcmd decodes the command line of an SD card bus: host commands,
// card responses and the CRC7 protecting them.
package sdcmd

import (
	"fmt"

	"github.com/bemasher/scopedecode/bch"
	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/packet"
	"github.com/bemasher/scopedecode/waveform"
)

func init() {
	decode.Register("sdcmd", func() decode.Decoder { return NewDecoder() })
}

// AppCmd biases the code of the command following CMD55.
const AppCmd = 100

var crc7 = bch.NewBCH(0x89)

type Type int

const (
	Header Type = iota
	Command
	CommandArgs
	ResponseArgs
	CRCOK
	CRCBad
	Error
)

var typeNames = [...]string{"HEADER", "COMMAND", "COMMAND_ARGS", "RESPONSE_ARGS", "CRC_OK", "CRC_BAD", "ERROR"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// Symbol is one field of a command or response frame. Cmd is the command code
// the frame belongs to (ACMDs biased by AppCmd); Response tells responses from
// commands. Data holds the field value, R2 register contents use all four
// words, most significant first.
type Symbol struct {
	Type     Type
	Cmd      int
	Response bool
	Data     [4]uint32
}

func (s Symbol) String() string {
	switch s.Type {
	case Header:
		if s.Response {
			return "Reply"
		}
		return "Command"
	case Command:
		return CodeName(s.Cmd)
	case CommandArgs, ResponseArgs:
		if s.Type == ResponseArgs && responseFormat(s.Cmd) == formatR2 {
			return fmt.Sprintf("%08X%08X%08X%08X", s.Data[0], s.Data[1], s.Data[2], s.Data[3])
		}
		return fmt.Sprintf("%08X", s.Data[0])
	case CRCOK:
		return fmt.Sprintf("CRC %02X", s.Data[0])
	case CRCBad:
		return fmt.Sprintf("CRC %02X (bad)", s.Data[0])
	}
	return "ERROR"
}

// CodeName returns the mnemonic of a command code. Replies seen before any
// command have no code and render as "?".
func CodeName(code int) string {
	if code < 0 {
		return "?"
	}
	if code >= AppCmd {
		return fmt.Sprintf("ACMD%d", code-AppCmd)
	}
	return fmt.Sprintf("CMD%d", code)
}

type format int

const (
	formatCommand format = iota
	formatR1
	formatR2
	formatR3
	formatR6
	formatR7
)

// responseFormat returns the layout of the response to code.
func responseFormat(code int) format {
	switch code {
	case 2, 9, 10:
		return formatR2
	case 1, AppCmd + 41:
		return formatR3
	case 3:
		return formatR6
	case 8:
		return formatR7
	}
	return formatR1
}

func (f format) args() int {
	if f == formatR2 {
		return 120
	}
	return 32
}

// States of the card, as reported in R1 CURRENT_STATE.
var cardStates = [...]string{"idle", "ready", "ident", "stby", "tran", "data", "rcv", "prg", "dis"}

// Info renders the interesting parts of a frame's argument.
func info(code int, response bool, f format, arg uint32) string {
	if !response {
		switch code {
		case 8:
			return fmt.Sprintf("VHS=%X Pattern=%02X", arg>>8&0xF, arg&0xFF)
		case 7, 9, 10, 13, 55:
			return fmt.Sprintf("RCA=%04X", arg>>16)
		case 16:
			return fmt.Sprintf("BlockLen=%d", arg)
		case 17, 18, 24, 25:
			return fmt.Sprintf("LBA=%d", arg)
		case AppCmd + 6:
			return fmt.Sprintf("BusWidth=%d", 1<<(2*(arg&3)))
		case AppCmd + 41:
			return fmt.Sprintf("HCS=%d OCR=%06X", arg>>30&1, arg&0xFFFFFF)
		}
		return ""
	}

	switch f {
	case formatR3:
		if arg>>31 == 0 {
			return fmt.Sprintf("OCR=%08X Busy", arg)
		}
		return fmt.Sprintf("OCR=%08X Ready", arg)
	case formatR6:
		return fmt.Sprintf("RCA=%04X", arg>>16)
	case formatR7:
		return fmt.Sprintf("VHS=%X Pattern=%02X", arg>>8&0xF, arg&0xFF)
	case formatR2:
		return ""
	}

	s := fmt.Sprintf("State=%d", arg>>9&0xF)
	if st := int(arg >> 9 & 0xF); st < len(cardStates) {
		s = "State=" + cardStates[st]
	}
	if arg&0xFFF80000 != 0 {
		s += fmt.Sprintf(" Errors=%03X", arg>>19)
	}
	if arg&(1<<5) != 0 {
		s += " AppCmd"
	}
	return s
}

type state int

const (
	stateIdle state = iota
	stateTransmission
	stateIndex
	stateArgs
	stateCRC
	stateStop
)

// Decoder decodes the SD command line. Input 0 is CLK, input 1 CMD.
type Decoder struct {
	decode.Base
	packet.List
}

func NewDecoder() *Decoder {
	d := &Decoder{}
	d.Init("sdcmd")
	d.CreateInput("CLK")
	d.CreateInput("CMD")
	d.AddOutputStream(decode.None, "data", decode.Protocol)
	return d
}

func (d *Decoder) Protocol() string { return "SD Command Bus" }

func (d *Decoder) ValidateChannel(slot int, s *decode.Stream) bool {
	return slot < 2 && decode.IsDigital(s)
}

func (d *Decoder) HeaderNames() []string {
	return []string{"Type", "Code", "Args", "Info"}
}

func (d *Decoder) Refresh() {
	d.Reset()

	clk, ok := decode.Input[bool](d.Ports(), 0)
	if !ok {
		d.SetOutput(nil, 0)
		return
	}
	cmd, ok := decode.Input[bool](d.Ports(), 1)
	if !ok {
		d.SetOutput(nil, 0)
		return
	}

	bits := waveform.SampleOnEdges[bool](cmd, clk, waveform.EdgeRising)
	out, pkts := Decode(bits)
	for _, p := range pkts {
		d.Push(p)
	}
	d.SetOutput(out, 0)
}

type machine struct {
	bits *waveform.Sparse[bool]
	out  *waveform.Sparse[Symbol]
	pkts []*packet.Packet
	pkt  *packet.Builder

	state    state
	frame    []byte // bits of the current frame, start bit first
	start    int    // index of the start bit
	first    int    // first bit of the current field
	count    int
	value    uint64
	words    [4]uint32
	response bool
	format   format
	code     int
	crcOK    bool

	last int  // code of the most recent command
	app  bool // CMD55 seen, next command is an ACMD
}

func (m *machine) emit(first, last int, sym Symbol) {
	b := m.bits
	m.out.Push(b.Offsets[first], b.Offsets[last]+b.Durations[last]-b.Offsets[first], sym)
}

func (m *machine) sym(t Type) Symbol {
	return Symbol{Type: t, Cmd: m.code, Response: m.response}
}

func (m *machine) finish(i int, c packet.Color) {
	if m.pkt == nil {
		return
	}
	m.pkt.Color(c)
	m.pkts = append(m.pkts, m.pkt.Finish(waveform.EndScaled(m.bits, i)))
	m.pkt = nil
}

// Decode runs the command line state machine over bits sampled on rising CLK.
func Decode(bits *waveform.Sparse[bool]) (*waveform.Sparse[Symbol], []*packet.Packet) {
	m := &machine{bits: bits, out: waveform.NewSparseLike[Symbol](bits), last: -1}
	for i, v := range bits.Samples {
		m.step(i, v)
	}
	return m.out, m.pkts
}

func (m *machine) step(i int, v bool) {
	if m.state != stateIdle {
		m.frame = append(m.frame, b2b(v))
	}

	switch m.state {
	case stateIdle:
		if v {
			return
		}
		m.start = i
		m.frame = append(m.frame[:0], 0)
		m.state = stateTransmission

	case stateTransmission:
		m.response = !v
		m.code = -1
		m.emit(m.start, i, m.sym(Header))
		m.pkt = packet.NewBuilder(waveform.OffsetScaled(m.bits, m.start))
		if m.response {
			m.pkt.Header("Type", "Reply")
		} else {
			m.pkt.Header("Type", "Command")
		}
		m.count = 0
		m.state = stateIndex

	case stateIndex:
		if !m.field(i, 6, v) {
			return
		}
		index := int(m.value)

		if m.response {
			m.code = m.last
			m.format = responseFormat(m.last)
		} else {
			m.code = index
			if m.app {
				m.code += AppCmd
				m.app = false
			} else if index == 55 {
				m.app = true
			}
			m.last = m.code
			m.format = formatCommand
		}

		sym := m.sym(Command)
		sym.Data[0] = uint32(index)
		m.emit(m.first, i, sym)
		m.pkt.Header("Code", CodeName(m.code))
		m.words = [4]uint32{}
		m.state = stateArgs

	case stateArgs:
		n := m.format.args()
		if n > 32 {
			// Long responses are collected a word at a time and left aligned.
			if m.count == 0 {
				m.first = i
			}
			m.words[m.count/32] = m.words[m.count/32]<<1 | uint32(b2b(v))
			m.count++
			if m.count < n {
				return
			}
			m.count = 0
			m.words[3] <<= 8
		} else {
			if !m.field(i, 32, v) {
				return
			}
			m.words[0] = uint32(m.value)
		}

		t := CommandArgs
		if m.response {
			t = ResponseArgs
		}
		sym := m.sym(t)
		sym.Data = m.words
		m.emit(m.first, i, sym)

		if n > 32 {
			m.pkt.Header("Args", sym.String())
		} else {
			m.pkt.Headerf("Args", "%08X", m.words[0])
		}
		if s := info(m.code, m.response, m.format, m.words[0]); s != "" {
			m.pkt.Header("Info", s)
		}
		m.state = stateCRC

	case stateCRC:
		if !m.field(i, 7, v) {
			return
		}
		if m.format == formatR3 {
			// R3 carries no CRC, the field is reserved.
			m.crcOK = true
			m.state = stateStop
			return
		}

		checked := m.frame
		if m.format == formatR2 {
			checked = m.frame[8:]
		}
		m.crcOK = crc7.Check(checked)

		t := CRCOK
		if !m.crcOK {
			t = CRCBad
		}
		sym := m.sym(t)
		sym.Data[0] = uint32(m.value)
		m.emit(m.first, i, sym)
		m.state = stateStop

	case stateStop:
		color := packet.Command
		if m.response {
			color = packet.Status
		}
		if !m.crcOK {
			color = packet.Error
		}
		if !v {
			sym := m.sym(Error)
			m.emit(i, i, sym)
			color = packet.Error
		}
		m.finish(i, color)
		m.state = stateIdle
	}
}

// field accumulates an n-bit field MSB first and reports completion.
func (m *machine) field(i, n int, v bool) bool {
	if m.count == 0 {
		m.first = i
		m.value = 0
	}
	m.value = m.value<<1 | uint64(b2b(v))
	m.count++
	if m.count < n {
		return false
	}
	m.count = 0
	return true
}

func b2b(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// CanMerge collapses a command with its reply, CMD55 with the ACMD it
// prefixes and consecutive polls of CMD1, ACMD41 and CMD13.
func (d *Decoder) CanMerge(group, rest []*packet.Packet) bool {
	cur, next := group[len(group)-1], rest[0]
	curType, nextType := cur.Header("Type"), next.Header("Type")
	curCode, nextCode := cur.Header("Code"), next.Header("Code")

	switch {
	case curType == "Command" && nextType == "Reply":
		return curCode == nextCode
	case curType == "Reply" && nextType == "Command" && curCode == "CMD55":
		return len(nextCode) > 4 && nextCode[:4] == "ACMD"
	case curType == "Reply" && nextType == "Command" && polling(curCode):
		if nextCode == curCode {
			return true
		}
		// ACMD41 polls are each prefixed by CMD55, which only joins the poll
		// when the command it prefixes is another ACMD41.
		return curCode == "ACMD41" && nextCode == "CMD55" && prefixed(rest) == "ACMD41"
	}
	return false
}

// prefixed returns the code of the first command after the CMD55 at rest[0].
func prefixed(rest []*packet.Packet) string {
	for _, p := range rest[1:] {
		if p.Header("Type") == "Command" {
			return p.Header("Code")
		}
	}
	return ""
}

func polling(code string) bool {
	return code == "CMD1" || code == "ACMD41" || code == "CMD13"
}

// MergedHeader summarizes a group by its last command and final reply.
func (d *Decoder) MergedHeader(group []*packet.Packet) *packet.Packet {
	p := packet.Span(group)

	var cmd, reply *packet.Packet
	for _, g := range group {
		switch {
		case g.Header("Type") == "Command" && g.Header("Code") != "CMD55":
			cmd = g
		case g.Header("Type") == "Reply":
			reply = g
		}
	}
	if cmd == nil {
		cmd = group[0]
	}

	p.Headers["Type"] = "Command"
	p.Headers["Code"] = cmd.Header("Code")
	p.Headers["Args"] = cmd.Header("Args")
	p.Headers["Info"] = cmd.Header("Info")
	p.Color = cmd.Color
	if reply != nil {
		p.Headers["Info"] = reply.Header("Info")
		p.Color = reply.Color
	}

	polls := 0
	for _, g := range group {
		if g.Header("Type") == "Command" && g.Header("Code") == p.Headers["Code"] {
			polls++
		}
	}
	if polls > 1 {
		p.Headers["Info"] = fmt.Sprintf("%s (%d polls)", p.Headers["Info"], polls)
	}
	return p
}
