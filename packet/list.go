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

package packet

// Packetizer is implemented by decoders that produce transaction logs in
// addition to symbol waveforms.
type Packetizer interface {
	// HeaderNames lists header columns in display order.
	HeaderNames() []string

	// Packets returns the packets produced by the last refresh.
	Packets() []*Packet

	// CanMerge reports whether rest[0] may join group. The packets after it
	// follow in rest[1:] for decoders that need lookahead.
	CanMerge(group, rest []*Packet) bool

	// MergedHeader summarizes a group accepted by CanMerge.
	MergedHeader(group []*Packet) *Packet
}

// List is embedded by packetizing decoders. Its merge methods never merge and
// are meant to be overridden.
type List struct {
	pkts []*Packet
}

func (l *List) Packets() []*Packet { return l.pkts }

// Push appends a finished packet.
func (l *List) Push(p *Packet) {
	l.pkts = append(l.pkts, p)
}

// Reset discards the packets of the previous refresh.
func (l *List) Reset() {
	l.pkts = nil
}

func (l *List) CanMerge(group, rest []*Packet) bool { return false }

func (l *List) MergedHeader(group []*Packet) *Packet {
	return Span(group)
}

// Span returns a copy of the first packet of group stretched over the whole
// group.
func Span(group []*Packet) *Packet {
	if len(group) == 0 {
		return nil
	}
	p := group[0].Clone()
	if end := group[len(group)-1].End(); end > p.Offset {
		p.Len = end - p.Offset
	}
	return p
}

// Row is one display line: a lone packet, or a merged header over the
// packets it summarizes.
type Row struct {
	*Packet
	Children []*Packet
}

// Rows collapses p's packets into display rows. The packet list itself is
// left untouched.
func Rows(p Packetizer) (rows []Row) {
	pkts := p.Packets()
	for i := 0; i < len(pkts); {
		j := i + 1
		for j < len(pkts) && p.CanMerge(pkts[i:j:j], pkts[j:]) {
			j++
		}

		if j-i == 1 {
			rows = append(rows, Row{Packet: pkts[i]})
		} else {
			group := pkts[i:j:j]
			rows = append(rows, Row{Packet: p.MergedHeader(group), Children: group})
		}
		i = j
	}
	return rows
}
