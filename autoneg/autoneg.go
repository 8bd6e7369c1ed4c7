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

// Package autoneg decodes Ethernet Clause 73 auto-negotiation pages from the
// differential Manchester coded DME stream on a backplane lane.
package autoneg

import (
	"fmt"
	"strings"

	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/packet"
	"github.com/bemasher/scopedecode/waveform"
)

func init() {
	decode.Register("autoneg", func() decode.Decoder { return NewDecoder() })
}

// PageBits is the length of a code page.
const PageBits = 49

// Page delimiters, first bit MSB.
const (
	DelimiterRising  = 0x0F
	DelimiterFalling = 0xF0
)

type Type int

const (
	Delimiter Type = iota
	Selector
	EchoedNonce
	Pause
	RemoteFault
	Ack
	NextPage
	TxNonce
	Technology
	FEC
	CodeBit
	Error
)

var typeNames = [...]string{
	"DELIMITER", "SELECTOR", "ECHOED_NONCE", "PAUSE", "RF", "ACK", "NP",
	"TX_NONCE", "TECHNOLOGY", "FEC", "CODE_BIT", "ERROR",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// Field locates a page field.
type Field struct {
	Type  Type
	Lo    int
	Width int
}

// Fields lists the code page layout, lowest bit first.
var Fields = []Field{
	{Selector, 0, 5},
	{EchoedNonce, 5, 5},
	{Pause, 10, 3},
	{RemoteFault, 13, 1},
	{Ack, 14, 1},
	{NextPage, 15, 1},
	{TxNonce, 16, 5},
	{Technology, 21, 25},
	{FEC, 46, 2},
	{CodeBit, 48, 1},
}

// Extract returns field f of page.
func (f Field) Extract(page uint64) uint32 {
	return uint32(page >> uint(f.Lo) & (1<<uint(f.Width) - 1))
}

// Insert returns page with field f set to v.
func (f Field) Insert(page uint64, v uint32) uint64 {
	mask := uint64(1<<uint(f.Width)-1) << uint(f.Lo)
	return page&^mask | uint64(v)<<uint(f.Lo)&mask
}

var techNames = [...]string{
	"1000BASE-KX", "10GBASE-KX4", "10GBASE-KR", "40GBASE-KR4", "40GBASE-CR4",
	"100GBASE-CR10", "100GBASE-KP4", "100GBASE-KR4", "100GBASE-CR4",
	"25GBASE-KR-S", "25GBASE-KR", "2.5GBASE-KX", "5GBASE-KR", "50GBASE-KR",
	"100GBASE-KR2", "200GBASE-KR4", "100GBASE-KR1", "200GBASE-KR2",
	"400GBASE-KR4",
}

// TechnologyNames lists the abilities advertised in a technology field.
// Reserved bits are named by position.
func TechnologyNames(v uint32) (names []string) {
	for i := 0; i < 25; i++ {
		if v>>uint(i)&1 == 0 {
			continue
		}
		if i < len(techNames) {
			names = append(names, techNames[i])
		} else {
			names = append(names, fmt.Sprintf("A%d", i))
		}
	}
	return names
}

// Symbol is one decoded page field or event.
type Symbol struct {
	Type Type
	Data uint32
}

func (s Symbol) String() string {
	switch s.Type {
	case Delimiter:
		return "Delimiter"
	case Selector:
		if s.Data == 1 {
			return "IEEE 802.3"
		}
		return fmt.Sprintf("Selector %d", s.Data)
	case EchoedNonce:
		return fmt.Sprintf("Echoed nonce %02X", s.Data)
	case Pause:
		return fmt.Sprintf("Pause %d", s.Data)
	case RemoteFault:
		return flag("RF", s.Data)
	case Ack:
		return flag("ACK", s.Data)
	case NextPage:
		return flag("NP", s.Data)
	case TxNonce:
		return fmt.Sprintf("Nonce %02X", s.Data)
	case Technology:
		if s.Data == 0 {
			return "No technology"
		}
		return strings.Join(TechnologyNames(s.Data), "/")
	case FEC:
		return fmt.Sprintf("FEC %d", s.Data)
	case CodeBit:
		return fmt.Sprintf("Code %d", s.Data)
	}
	return "ERROR"
}

func flag(name string, v uint32) string {
	if v == 0 {
		return "!" + name
	}
	return name
}

// Decoder samples DATA on rising CLK edges and decodes pages.
type Decoder struct {
	decode.Base
	packet.List
}

func NewDecoder() *Decoder {
	d := &Decoder{}
	d.Init("autoneg")
	d.CreateInput("DATA")
	d.CreateInput("CLK")
	d.AddOutputStream(decode.None, "page", decode.Protocol)
	return d
}

func (d *Decoder) Protocol() string { return "Autonegotiation" }

func (d *Decoder) ValidateChannel(slot int, s *decode.Stream) bool {
	return slot < 2 && decode.IsDigital(s)
}

func (d *Decoder) HeaderNames() []string {
	return []string{"Selector", "Nonce", "Technology", "FEC", "Flags"}
}

func (d *Decoder) Refresh() {
	d.Reset()

	data, ok := decode.Input[bool](d.Ports(), 0)
	if !ok || data.Len() == 0 {
		d.SetOutput(nil, 0)
		return
	}
	clk, ok := decode.Input[bool](d.Ports(), 1)
	if !ok || clk.Len() == 0 {
		d.SetOutput(nil, 0)
		return
	}

	m := &machine{halves: waveform.SampleOnEdges(data, clk, waveform.EdgeRising)}
	m.out = waveform.NewSparseLike[Symbol](m.halves)
	m.run()

	for _, p := range m.pkts {
		d.Push(p)
	}
	d.SetOutput(m.out, 0)
}

type machine struct {
	halves *waveform.Sparse[bool]
	out    *waveform.Sparse[Symbol]
	pkts   []*packet.Packet

	window uint8
	nwin   int
	inPage bool
	start  int
	prev   bool
	runLen int
	first  int // index of the pending first half, or -1
	page   uint64
	bitsAt []int // first half index of every page bit
}

func (m *machine) emit(from, to int, sym Symbol) {
	off := m.halves.Offsets[from]
	m.out.Push(off, m.halves.Offsets[to]+m.halves.Durations[to]-off, sym)
}

func (m *machine) run() {
	for i, b := range m.halves.Samples {
		if !m.inPage {
			m.window <<= 1
			if b {
				m.window |= 1
			}
			m.nwin++
			if m.nwin < 8 || (m.window != DelimiterRising && m.window != DelimiterFalling) {
				continue
			}
			m.emit(i-7, i, Symbol{Delimiter, uint32(m.window)})
			m.inPage, m.start = true, i-7
			m.prev, m.runLen, m.first = b, 1, -1
			m.page, m.bitsAt = 0, m.bitsAt[:0]
			continue
		}

		if b == m.prev {
			m.runLen++
		} else {
			m.runLen = 1
		}
		m.prev = b

		// Coded data never holds a level for more than two half bits.
		if m.runLen > 2 {
			m.terminate(i)
			continue
		}

		if m.first < 0 {
			m.first = i
			continue
		}
		if m.halves.Samples[m.first] != b {
			m.page |= 1 << uint(len(m.bitsAt))
		}
		m.bitsAt = append(m.bitsAt, m.first)
		m.first = -1

		if len(m.bitsAt) == PageBits {
			m.complete(i)
		}
	}

	if m.inPage {
		m.terminate(len(m.halves.Samples) - 1)
	}
}

func (m *machine) terminate(i int) {
	m.emit(m.start, i, Symbol{Error, uint32(len(m.bitsAt))})
	p := packet.NewBuilder(waveform.OffsetScaled(m.halves, m.start)).
		Headerf("Flags", "truncated after %d bits", len(m.bitsAt)).
		Color(packet.Error).
		Finish(waveform.EndScaled(m.halves, i))
	m.pkts = append(m.pkts, p)
	m.search()
}

func (m *machine) complete(i int) {
	for _, f := range Fields {
		from := m.bitsAt[f.Lo]
		to := m.bitsAt[f.Lo+f.Width-1] + 1
		m.emit(from, to, Symbol{f.Type, f.Extract(m.page)})
	}

	sym := func(t Type) Symbol {
		return Symbol{t, Fields[t-Selector].Extract(m.page)}
	}
	var flags []string
	for _, t := range []Type{RemoteFault, Ack, NextPage} {
		if s := sym(t); s.Data != 0 {
			flags = append(flags, s.String())
		}
	}

	data := make([]byte, 7)
	for k := range data {
		data[k] = byte(m.page >> uint(8*k))
	}

	p := packet.NewBuilder(waveform.OffsetScaled(m.halves, m.start)).
		Header("Selector", sym(Selector).String()).
		Headerf("Nonce", "%02X/%02X", sym(TxNonce).Data, sym(EchoedNonce).Data).
		Header("Technology", sym(Technology).String()).
		Headerf("FEC", "%d", sym(FEC).Data).
		Header("Flags", strings.Join(flags, " ")).
		Append(data...).
		Color(packet.Control).
		Finish(waveform.EndScaled(m.halves, i))
	m.pkts = append(m.pkts, p)
	m.search()
}

func (m *machine) search() {
	m.inPage = false
	m.window, m.nwin = 0, 0
}
