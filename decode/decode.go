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

// Package decode is the framework every protocol decoder and measurement node
// is built on: typed output streams, declared inputs, per-node diagnostics and
// a pull-based graph that refreshes nodes in dependency order.
package decode

import (
	"fmt"

	"github.com/bemasher/scopedecode/waveform"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Kind classifies the samples a stream carries.
type Kind int

const (
	Analog   Kind = iota // Series[float32]
	Digital              // Series[bool]
	Protocol             // decoder symbols
	Scalar               // single value, Stream.Value
)

func (k Kind) String() string {
	switch k {
	case Analog:
		return "analog"
	case Digital:
		return "digital"
	case Protocol:
		return "protocol"
	case Scalar:
		return "scalar"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Unit is the physical unit of a stream's values.
type Unit int

const (
	None Unit = iota
	Volts
	Seconds
	Percent
	Counts
	Hertz
)

func (u Unit) String() string {
	switch u {
	case None:
		return ""
	case Volts:
		return "V"
	case Seconds:
		return "s"
	case Percent:
		return "%"
	case Counts:
		return "counts"
	case Hertz:
		return "Hz"
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

// Stream is one named output of a node.
type Stream struct {
	Name string
	Kind Kind
	Unit Unit

	Data  waveform.Waveform
	Value float64
}

// Node is anything that publishes output streams.
type Node interface {
	Name() string
	NumOutputs() int
	OutputStream(i int) *Stream
}

// StreamRef names output Index of Node.
type StreamRef struct {
	Node  Node
	Index int
}

// Stream returns the referenced stream or nil if the reference is dangling.
func (r StreamRef) Stream() *Stream {
	if r.Node == nil || r.Index < 0 || r.Index >= r.Node.NumOutputs() {
		return nil
	}
	return r.Node.OutputStream(r.Index)
}

func (r StreamRef) String() string {
	if r.Node == nil {
		return "<none>"
	}
	if s := r.Stream(); s != nil {
		return r.Node.Name() + "." + s.Name
	}
	return fmt.Sprintf("%s.%d", r.Node.Name(), r.Index)
}

// Decoder is implemented by every protocol decoder, filter and measurement.
type Decoder interface {
	Node

	// Protocol is the display name of what the decoder produces.
	Protocol() string

	// ValidateChannel reports whether s may be wired to input slot. A nil
	// stream asks whether the slot may be left unconnected. It is called
	// while the graph is being rewired, never from Refresh.
	ValidateChannel(slot int, s *Stream) bool

	// Refresh recomputes every output from the current inputs.
	Refresh()

	// Ports returns the decoder's input and output plumbing.
	Ports() *Base
}

type input struct {
	name string
	ref  StreamRef
}

// Base holds the inputs, outputs and diagnostics shared by all decoders. It is
// meant to be embedded.
type Base struct {
	name    string
	inputs  []input
	outputs []*Stream
	errs    []string

	Log *logrus.Entry
}

// Init names the node and attaches its logger.
func (b *Base) Init(name string) {
	b.name = name
	b.Log = logrus.WithField("node", name)
}

func (b *Base) Ports() *Base { return b }

func (b *Base) Name() string { return b.name }

// SetName renames the node, its logger follows.
func (b *Base) SetName(name string) {
	b.Init(name)
}

// CreateInput declares a new input slot and returns its index.
func (b *Base) CreateInput(name string) int {
	b.inputs = append(b.inputs, input{name: name})
	return len(b.inputs) - 1
}

func (b *Base) NumInputs() int { return len(b.inputs) }

func (b *Base) InputName(slot int) string { return b.inputs[slot].name }

// Input returns what is wired to slot.
func (b *Base) Input(slot int) StreamRef {
	if slot < 0 || slot >= len(b.inputs) {
		return StreamRef{}
	}
	return b.inputs[slot].ref
}

// InputWaveform returns the waveform currently published on the stream wired
// to slot, or nil when nothing is wired or nothing was published.
func (b *Base) InputWaveform(slot int) waveform.Waveform {
	s := b.Input(slot).Stream()
	if s == nil {
		return nil
	}
	return s.Data
}

// InputValue returns the scalar published on the stream wired to slot.
func (b *Base) InputValue(slot int) (float64, bool) {
	s := b.Input(slot).Stream()
	if s == nil {
		return 0, false
	}
	return s.Value, true
}

// AddOutputStream declares a new output and returns its index.
func (b *Base) AddOutputStream(unit Unit, name string, kind Kind) int {
	b.outputs = append(b.outputs, &Stream{Name: name, Kind: kind, Unit: unit})
	return len(b.outputs) - 1
}

func (b *Base) NumOutputs() int { return len(b.outputs) }

func (b *Base) OutputStream(i int) *Stream { return b.outputs[i] }

// SetOutput publishes w on output idx, replacing the previous waveform.
func (b *Base) SetOutput(w waveform.Waveform, idx int) {
	b.outputs[idx].Data = w
}

// SetScalar publishes a single value on output idx.
func (b *Base) SetScalar(v float64, idx int) {
	b.outputs[idx].Value = v
}

// ClearOutputs publishes nothing on every output.
func (b *Base) ClearOutputs() {
	for _, s := range b.outputs {
		s.Data = nil
		s.Value = 0
	}
}

// Output returns the waveform published on output idx.
func (b *Base) Output(idx int) waveform.Waveform {
	return b.outputs[idx].Data
}

// AddError records a configuration problem for the UI and logs it.
func (b *Base) AddError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.errs = append(b.errs, msg)
	if b.Log != nil {
		b.Log.Warn(msg)
	}
}

func (b *Base) Errors() []string { return b.errs }

func (b *Base) ClearErrors() { b.errs = b.errs[:0] }

func (b *Base) setInput(slot int, ref StreamRef) {
	b.inputs[slot].ref = ref
}

// Connect wires ref to input slot of d after asking d whether it accepts the
// stream. A zero StreamRef disconnects the slot.
func Connect(d Decoder, slot int, ref StreamRef) error {
	b := d.Ports()
	if slot < 0 || slot >= b.NumInputs() {
		return xerrors.Errorf("decode: %s: no input slot %d", d.Name(), slot)
	}

	s := ref.Stream()
	if ref.Node != nil && s == nil {
		return xerrors.Errorf("decode: %s: dangling stream %s", d.Name(), ref)
	}
	if !d.ValidateChannel(slot, s) {
		return xerrors.Errorf("decode: %s: input %q rejects %s", d.Name(), b.InputName(slot), ref)
	}

	b.setInput(slot, ref)
	return nil
}

// Input returns the waveform wired to slot of b as a Series of T. It reports
// false when the slot is empty or holds a different sample type.
func Input[T any](b *Base, slot int) (waveform.Series[T], bool) {
	return waveform.As[T](b.InputWaveform(slot))
}

// IsDigital accepts digital streams.
func IsDigital(s *Stream) bool {
	return s != nil && s.Kind == Digital
}

// IsAnalog accepts analog streams.
func IsAnalog(s *Stream) bool {
	return s != nil && s.Kind == Analog
}

// Channel is a source node holding the latest acquired waveform of one
// physical instrument channel.
type Channel struct {
	stream Stream
}

// NewChannel returns an empty channel node.
func NewChannel(name string, kind Kind, unit Unit) *Channel {
	return &Channel{stream: Stream{Name: name, Kind: kind, Unit: unit}}
}

func (c *Channel) Name() string { return c.stream.Name }
func (c *Channel) NumOutputs() int { return 1 }
func (c *Channel) OutputStream(int) *Stream { return &c.stream }

// Set publishes a freshly acquired waveform.
func (c *Channel) Set(w waveform.Waveform) { c.stream.Data = w }

func (c *Channel) Waveform() waveform.Waveform { return c.stream.Data }

// Ref returns a reference to the channel's only stream.
func (c *Channel) Ref() StreamRef {
	return StreamRef{Node: c}
}
