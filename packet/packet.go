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

// Package packet groups decoded symbols into human readable transactions and
// lets consumers collapse related transactions into single display rows.
package packet

import (
	"fmt"
)

// Color hints how a packet should be displayed.
type Color int

const (
	Default Color = iota
	Error
	Status
	Control
	Command
	DataRead
	DataWrite
)

var colorNames = [...]string{"default", "error", "status", "control", "command", "read", "write"}

func (c Color) String() string {
	if c < 0 || int(c) >= len(colorNames) {
		return fmt.Sprintf("color(%d)", int(c))
	}
	return colorNames[c]
}

// Packet is one finished transaction. Offset and Len are femtoseconds on the
// producing decoder's timeline.
type Packet struct {
	Offset  int64
	Len     int64
	Headers map[string]string
	Data    []byte
	Color   Color
}

// End returns the time the packet finishes.
func (p *Packet) End() int64 {
	return p.Offset + p.Len
}

// Header returns the named header or an empty string.
func (p *Packet) Header(name string) string {
	return p.Headers[name]
}

// Clone returns a deep copy.
func (p *Packet) Clone() *Packet {
	c := *p
	c.Headers = make(map[string]string, len(p.Headers))
	for k, v := range p.Headers {
		c.Headers[k] = v
	}
	c.Data = append([]byte(nil), p.Data...)
	return &c
}

// Builder accumulates a packet while a decoder's state machine walks through a
// transaction. Finish hands the packet over; the builder is unusable after.
type Builder struct {
	p *Packet
}

// NewBuilder opens a packet starting at offset (fs).
func NewBuilder(offset int64) *Builder {
	return &Builder{p: &Packet{Offset: offset, Headers: map[string]string{}}}
}

func (b *Builder) packet() *Packet {
	if b.p == nil {
		panic("packet: builder used after Finish")
	}
	return b.p
}

// Header sets a named header, replacing any previous value.
func (b *Builder) Header(name, value string) *Builder {
	b.packet().Headers[name] = value
	return b
}

// Headerf is Header with formatting.
func (b *Builder) Headerf(name, format string, args ...interface{}) *Builder {
	return b.Header(name, fmt.Sprintf(format, args...))
}

// Get returns a header set so far.
func (b *Builder) Get(name string) string {
	return b.packet().Headers[name]
}

// Append adds payload bytes.
func (b *Builder) Append(data ...byte) *Builder {
	p := b.packet()
	p.Data = append(p.Data, data...)
	return b
}

// Color sets the display color.
func (b *Builder) Color(c Color) *Builder {
	b.packet().Color = c
	return b
}

// Finish closes the packet at end (fs) and returns it.
func (b *Builder) Finish(end int64) *Packet {
	p := b.packet()
	b.p = nil
	if end > p.Offset {
		p.Len = end - p.Offset
	}
	return p
}
