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

package main

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bemasher/scopedecode/acquire"
	"github.com/bemasher/scopedecode/compute"
	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/fir"
	"github.com/bemasher/scopedecode/measure"
	"github.com/bemasher/scopedecode/packet"
	"github.com/bemasher/scopedecode/waveform"

	_ "github.com/bemasher/scopedecode/autoneg"
	_ "github.com/bemasher/scopedecode/dphy"
	_ "github.com/bemasher/scopedecode/hyperram"
	_ "github.com/bemasher/scopedecode/parallel"
	_ "github.com/bemasher/scopedecode/sdcmd"
	_ "github.com/bemasher/scopedecode/swd"
)

// chains lists decoders stacked on the output of a protocol's first decoder.
var chains = map[string][]string{
	"dphy": {"dphy-escape"},
}

// Pipeline turns capture sets into log packets. Channels are created and
// wired the first time a capture carries them.
type Pipeline struct {
	graph    *decode.Graph
	channels map[string]*decode.Channel

	// entry receives acquired channels by input name.
	entry decode.Decoder

	// report produces the logged packets of protocol pipelines.
	report packet.Packetizer
	name   string

	// Measurement pipelines report scalar outputs instead.
	scalars []scalar

	log *logrus.Entry
}

type scalar struct {
	column string
	node   decode.Node
	stream int
}

// NewProtocolPipeline decodes the lanes of protocol name.
func NewProtocolPipeline(name string) (*Pipeline, error) {
	p := &Pipeline{
		graph:    decode.NewGraph(),
		channels: map[string]*decode.Channel{},
		name:     name,
		log:      logrus.WithField("source", "pipeline"),
	}

	d, err := decode.New(name)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline")
	}
	p.graph.Add(d)
	p.entry = d

	last := d
	for _, next := range chains[name] {
		n, err := decode.New(next)
		if err != nil {
			return nil, errors.Wrap(err, "pipeline")
		}
		p.graph.Add(n)
		if err := p.graph.Connect(n, 0, last, 0); err != nil {
			return nil, errors.Wrap(err, "pipeline")
		}
		last, p.name = n, next
	}

	pz, ok := last.(packet.Packetizer)
	if !ok {
		return nil, errors.Errorf("pipeline: %s produces no packets", p.name)
	}
	p.report = pz
	return p, nil
}

// NewMeasurementPipeline low-pass filters the magnitude of an IQ source and
// measures its edges.
func NewMeasurementPipeline(cutoff float64, backend compute.Backend) (*Pipeline, error) {
	p := &Pipeline{
		graph:    decode.NewGraph(),
		channels: map[string]*decode.Channel{},
		name:     "measure",
		log:      logrus.WithField("source", "pipeline"),
	}

	mag := decode.NewChannel(acquire.MagChannel, decode.Analog, decode.Volts)
	p.channels[acquire.MagChannel] = mag

	lpf := fir.NewFIR(fir.WithType(fir.LowPass), fir.WithCutoff(cutoff, 0), fir.WithBackend(backend))
	p.graph.Add(lpf)
	if err := decode.Connect(lpf, 0, mag.Ref()); err != nil {
		return nil, errors.Wrap(err, "pipeline")
	}

	rise := measure.NewRiseTime(measure.WithBackend(backend))
	fall := measure.NewFallTime(measure.WithBackend(backend))
	over := measure.NewOvershoot()
	for _, d := range []decode.Decoder{rise, fall, over} {
		p.graph.Add(d)
		if err := p.graph.Connect(d, 0, lpf, 0); err != nil {
			return nil, errors.Wrap(err, "pipeline")
		}
	}

	for _, n := range []struct {
		prefix string
		node   decode.Node
	}{{"rise", rise}, {"fall", fall}, {"", over}} {
		for i := 0; i < n.node.NumOutputs(); i++ {
			s := n.node.OutputStream(i)
			if s.Kind != decode.Scalar {
				continue
			}
			column := s.Name
			if n.prefix != "" {
				column = n.prefix + " " + s.Name
			}
			p.scalars = append(p.scalars, scalar{column, n.node, i})
		}
	}
	return p, nil
}

// Columns names the header fields of every logged packet.
func (p *Pipeline) Columns() (names []string) {
	if p.report != nil {
		return p.report.HeaderNames()
	}
	for _, s := range p.scalars {
		names = append(names, s.column)
	}
	return names
}

// Load publishes the waveforms of set on their channels.
func (p *Pipeline) Load(set *acquire.CaptureSet) {
	for _, ch := range p.channels {
		if ch != nil {
			ch.Set(nil)
		}
	}

	for name, w := range set.Waveforms {
		ch, ok := p.channels[name]
		if !ok {
			ch = p.attach(name, w)
		}
		if ch != nil {
			ch.Set(w)
		}
	}
}

// attach creates the channel for a newly seen lane and wires it to the entry
// decoder's input of the same name.
func (p *Pipeline) attach(name string, w waveform.Waveform) *decode.Channel {
	if p.entry == nil {
		return nil
	}

	kind, unit := decode.Digital, decode.None
	if _, ok := waveform.As[float32](w); ok {
		kind, unit = decode.Analog, decode.Volts
	}
	ch := decode.NewChannel(name, kind, unit)

	b := p.entry.Ports()
	for slot := 0; slot < b.NumInputs(); slot++ {
		if b.InputName(slot) != name {
			continue
		}
		if err := decode.Connect(p.entry, slot, ch.Ref()); err != nil {
			p.log.WithError(err).WithField("channel", name).Warn("channel not wired")
			break
		}
		p.channels[name] = ch
		p.log.WithFields(logrus.Fields{"channel": name, "kind": kind}).Debug("channel wired")
		return ch
	}

	p.log.WithField("channel", name).Debug("channel has no matching input")
	p.channels[name] = nil
	return nil
}

// Process refreshes the graph over set and returns its log packets.
func (p *Pipeline) Process(set *acquire.CaptureSet) (pkts []packet.LogPacket) {
	p.Load(set)
	p.graph.Refresh()

	for _, n := range p.graph.Nodes() {
		if d, ok := n.(decode.Decoder); ok {
			for _, e := range d.Ports().Errors() {
				p.log.WithFields(logrus.Fields{"node": d.Name(), "seq": set.Seq}).Warn(e)
			}
		}
	}

	if p.report != nil {
		names := p.report.HeaderNames()
		for _, row := range packet.Rows(p.report) {
			pkts = append(pkts, packet.NewLogPacket(set.Time, set.Seq, p.name, names, row))
		}
		return pkts
	}

	lp := packet.LogPacket{Time: set.Time, Seq: set.Seq, Protocol: p.name}
	if mag := p.channels[acquire.MagChannel].Waveform(); mag != nil {
		start, end := waveform.Span(mag)
		lp.Offset, lp.Length = start, end-start
	}
	for _, s := range p.scalars {
		v := s.node.OutputStream(s.stream)
		lp.Fields = append(lp.Fields, packet.Field{
			Name:  s.column,
			Value: strconv.FormatFloat(v.Value, 'g', 6, 64) + v.Unit.String(),
		})
	}
	return append(pkts, lp)
}
