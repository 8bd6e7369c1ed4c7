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

// Package hyperram decodes HyperBus transactions between a controller and a
// HyperRAM: the command/address word, the initial latency and DDR data.
package hyperram

import (
	"fmt"
	"strconv"

	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/packet"
	"github.com/bemasher/scopedecode/waveform"
)

func init() {
	decode.Register("hyperram", func() decode.Decoder { return NewDecoder() })
}

// DefaultLatency is the initial latency, in clock cycles, of most parts.
const DefaultLatency = 6

// CA is the decoded 48-bit command/address word.
type CA struct {
	Read          bool
	RegisterSpace bool
	Linear        bool
	Address       uint32
}

// DecodeCA unpacks a command/address word. The address is assembled from
// the upper column/row bits CA[44:16] and the lower column bits CA[2:0].
func DecodeCA(ca uint64) CA {
	return CA{
		Read:          ca>>47&1 == 1,
		RegisterSpace: ca>>46&1 == 1,
		Linear:        ca>>45&1 == 1,
		Address:       uint32(ca>>16&0x1FFFFFFF)<<3 | uint32(ca&7),
	}
}

// EncodeCA packs c into a command/address word.
func EncodeCA(c CA) (ca uint64) {
	if c.Read {
		ca |= 1 << 47
	}
	if c.RegisterSpace {
		ca |= 1 << 46
	}
	if c.Linear {
		ca |= 1 << 45
	}
	ca |= uint64(c.Address>>3&0x1FFFFFFF) << 16
	ca |= uint64(c.Address & 7)
	return ca
}

func (c CA) String() string {
	op, space, burst := "Write", "Mem", "Wrapped"
	if c.Read {
		op = "Read"
	}
	if c.RegisterSpace {
		space = "Reg"
	}
	if c.Linear {
		burst = "Linear"
	}
	return fmt.Sprintf("%s %s %s %08X", op, space, burst, c.Address)
}

type Type int

const (
	CommandAddress Type = iota
	Wait
	Data
	Deselect
	Error
)

var typeNames = [...]string{"CA", "WAIT", "DATA", "DESELECT", "ERROR"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// Symbol is one bus event. Data holds the CA word, the latency in cycles or
// a data byte.
type Symbol struct {
	Type Type
	Data uint64
}

func (s Symbol) String() string {
	switch s.Type {
	case CommandAddress:
		return DecodeCA(s.Data).String()
	case Wait:
		return fmt.Sprintf("Wait %d", s.Data)
	case Data:
		return fmt.Sprintf("%02X", s.Data)
	case Deselect:
		return "Deselect"
	}
	return "ERROR"
}

type state int

const (
	stateIdle state = iota
	stateDeselected
	stateCA
	stateWait
	stateRead
	stateWrite
)

// Option configures a Decoder.
type Option func(*Decoder)

// WithLatency sets the base initial latency in clock cycles.
func WithLatency(cycles int) Option {
	return func(d *Decoder) {
		d.Latency = cycles
	}
}

// Decoder decodes HyperBus. Inputs are CK, CS#, RWDS and DQ0..DQ7.
type Decoder struct {
	decode.Base
	packet.List

	Latency int
}

const (
	slotCK = iota
	slotCS
	slotRWDS
	slotDQ0
)

func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{Latency: DefaultLatency}
	d.Init("hyperram")
	d.CreateInput("CK")
	d.CreateInput("CS#")
	d.CreateInput("RWDS")
	for i := 0; i < 8; i++ {
		d.CreateInput("DQ" + strconv.Itoa(i))
	}
	d.AddOutputStream(decode.None, "data", decode.Protocol)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Decoder) Protocol() string { return "HyperRAM" }

func (d *Decoder) ValidateChannel(slot int, s *decode.Stream) bool {
	return slot < slotDQ0+8 && decode.IsDigital(s)
}

func (d *Decoder) HeaderNames() []string {
	return []string{"Op", "Space", "Burst", "Address", "Latency", "Len"}
}

func (d *Decoder) Refresh() {
	d.Reset()

	if d.Latency < 0 {
		d.AddError("invalid latency %d", d.Latency)
		d.SetOutput(nil, 0)
		return
	}

	lanes := make([]waveform.Series[bool], slotDQ0+8)
	ws := make([]waveform.Waveform, len(lanes))
	for slot := range lanes {
		s, ok := decode.Input[bool](d.Ports(), slot)
		if !ok || s.Len() == 0 {
			d.SetOutput(nil, 0)
			return
		}
		lanes[slot] = s
		ws[slot] = s
	}

	m := &machine{
		latency: d.Latency,
		lanes:   lanes,
		merge:   waveform.NewMerge(ws...),
		out:     waveform.NewSparseLike[Symbol](lanes[slotCK]),
		cursors: make([]int, 8),
	}
	m.run()

	for _, p := range m.pkts {
		d.Push(p)
	}
	d.SetOutput(m.out, 0)
}

type machine struct {
	latency int
	lanes   []waveform.Series[bool]
	merge   *waveform.Merge
	out     *waveform.Sparse[Symbol]
	pkts    []*packet.Packet
	pkt     *packet.Builder

	state     state
	caStart   int64
	ca        uint64
	caBytes   int
	doubled   bool
	cmd       CA
	countdown int
	waitStart int64
	lastEdge  int64
	nbytes    int

	pending    int64
	hasPending bool
	lastGap    int64

	cursors []int // per DQ lane, for sampling between RWDS edges
}

// emit places sym between t0 and t1 (fs).
func (m *machine) emit(t0, t1 int64, sym Symbol) {
	tb := m.out.Timing()
	off := tb.Ticks(t0)
	dur := tb.Ticks(t1) - off
	if dur < 1 {
		dur = 1
	}
	m.out.Push(off, dur, sym)
}

// dq returns the data lanes at the merge's current time.
func (m *machine) dq() (v byte) {
	for k := 0; k < 8; k++ {
		if waveform.ValueAt[bool](m.merge, slotDQ0+k) {
			v |= 1 << uint(k)
		}
	}
	return v
}

// dqAt samples the data lanes at t, which must not decrease between calls.
func (m *machine) dqAt(t int64) (v byte) {
	for k := 0; k < 8; k++ {
		if waveform.NearestValue(m.lanes[slotDQ0+k], &m.cursors[k], t) {
			v |= 1 << uint(k)
		}
	}
	return v
}

func (m *machine) run() {
	mg := m.merge
	var prevCK, prevCS, prevRWDS bool
	started := false

	for ok := mg.Valid(); ok; ok = mg.Next() {
		now := mg.Now
		ck := waveform.ValueAt[bool](mg, slotCK)
		cs := waveform.ValueAt[bool](mg, slotCS)
		rwds := waveform.ValueAt[bool](mg, slotRWDS)

		ckEdge := started && ck != prevCK
		rwdsEdge := started && rwds != prevRWDS
		csRise := started && cs && !prevCS
		csFall := started && !cs && prevCS
		prevCK, prevCS, prevRWDS = ck, cs, rwds
		started = true

		if csRise && m.state != stateIdle && m.state != stateDeselected {
			m.deselect(now)
			continue
		}

		switch m.state {
		case stateIdle:
			if cs {
				m.state = stateDeselected
			}

		case stateDeselected:
			if !csFall {
				continue
			}
			m.out.Extend(m.out.Timing().Ticks(now))
			m.caStart = now
			m.ca, m.caBytes, m.doubled = 0, 0, false
			m.pkt = packet.NewBuilder(now)
			m.state = stateCA

		case stateCA:
			if !ckEdge {
				continue
			}
			m.ca = m.ca<<8 | uint64(m.dq())
			m.doubled = m.doubled || rwds
			m.caBytes++
			if m.caBytes < 6 {
				continue
			}
			m.command(now)

		case stateWait:
			if !ckEdge || !ck {
				continue
			}
			m.countdown--
			if m.countdown <= 0 {
				m.dataPhase(now)
			}

		case stateRead:
			if !rwdsEdge {
				continue
			}
			if m.hasPending {
				m.lastGap = now - m.pending
				m.readByte(m.pending, now)
			}
			m.pending, m.hasPending = now, true

		case stateWrite:
			if !ckEdge {
				continue
			}
			gap := now - m.lastEdge
			v := m.dq()
			m.emit(now-gap/2, now+gap/2, Symbol{Data, uint64(v)})
			m.pkt.Append(v)
			m.nbytes++
			m.lastEdge = now
		}
	}

	if m.pkt != nil {
		m.finish(packet.Error)
	}
}

func (m *machine) command(now int64) {
	m.cmd = DecodeCA(m.ca)
	m.emit(m.caStart, now, Symbol{CommandAddress, m.ca})

	op := "Write"
	if m.cmd.Read {
		op = "Read"
	}
	space := "Memory"
	if m.cmd.RegisterSpace {
		space = "Register"
	}
	burst := "Wrapped"
	if m.cmd.Linear {
		burst = "Linear"
	}
	m.pkt.Header("Op", op).Header("Space", space).Header("Burst", burst).
		Headerf("Address", "%08X", m.cmd.Address)

	m.nbytes = 0
	m.hasPending, m.lastGap = false, 0

	// Register writes have no latency.
	if !m.cmd.Read && m.cmd.RegisterSpace {
		m.pkt.Header("Latency", "0")
		m.lastEdge = now
		m.state = stateWrite
		return
	}

	m.countdown = m.latency
	if m.doubled {
		m.countdown *= 2
	}
	m.pkt.Headerf("Latency", "%d", m.countdown)
	m.waitStart = now
	m.state = stateWait
	if m.countdown <= 0 {
		m.dataPhase(now)
	}
}

func (m *machine) dataPhase(now int64) {
	lat := m.latency
	if m.doubled {
		lat *= 2
	}
	if now > m.waitStart {
		m.emit(m.waitStart, now, Symbol{Wait, uint64(lat)})
	}
	if m.cmd.Read {
		m.state = stateRead
	} else {
		m.lastEdge = now
		m.state = stateWrite
	}
}

// readByte samples the byte launched at RWDS edge t0 midway to t1.
func (m *machine) readByte(t0, t1 int64) {
	v := m.dqAt((t0 + t1) / 2)
	m.emit(t0, t1, Symbol{Data, uint64(v)})
	m.pkt.Append(v)
	m.nbytes++
}

func (m *machine) deselect(now int64) {
	color := packet.DataWrite
	switch m.state {
	case stateCA:
		m.emit(m.caStart, now, Symbol{Error, m.ca})
		color = packet.Error
	case stateRead:
		if m.hasPending {
			end := now
			if m.lastGap > 0 && m.pending+m.lastGap < now {
				end = m.pending + m.lastGap
			}
			m.readByte(m.pending, end)
		}
		color = packet.DataRead
	case stateWait:
		if m.cmd.Read {
			color = packet.DataRead
		}
	}

	m.emit(now, now, Symbol{Deselect, 0})
	m.finish(color)
	m.state = stateDeselected
}

func (m *machine) finish(c packet.Color) {
	m.pkt.Headerf("Len", "%d", m.nbytes).Color(c)
	m.pkts = append(m.pkts, m.pkt.Finish(m.merge.Now))
	m.pkt = nil
}
