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

package acquire

import (
	"context"
	"io"
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/bemasher/scopedecode/gen"
	"github.com/bemasher/scopedecode/hyperram"
	"github.com/bemasher/scopedecode/swd"
	"github.com/bemasher/scopedecode/waveform"
)

// Generator synthesizes captures of a single protocol with random payloads.
// Lane names match the inputs of the protocol's decoder.
type Generator struct {
	Protocol string
	Count    int // captures before io.EOF, zero for unlimited
	Rate     time.Duration

	rnd  *rand.Rand
	done int
}

type synth func(r *rand.Rand, tb waveform.Timebase) map[string]waveform.Waveform

var synths = map[string]struct {
	timescale int64
	fn        synth
}{
	"swd":      {10 * waveform.NS, synthSWD},
	"sdcmd":    {20 * waveform.NS, synthSD},
	"hyperram": {5 * waveform.NS, synthHyperRAM},
	"parallel": {10 * waveform.NS, synthParallel},
	"autoneg":  {3200 * waveform.PS, synthAutoneg},
	"dphy":     {waveform.NS, synthDPHY},
}

// Protocols lists the protocols a Generator can synthesize.
func Protocols() (names []string) {
	for name := range synths {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func NewGenerator(protocol string, count int, seed int64) (*Generator, error) {
	if _, ok := synths[protocol]; !ok {
		return nil, errors.Errorf("acquire: no generator for protocol %q", protocol)
	}
	return &Generator{
		Protocol: protocol,
		Count:    count,
		rnd:      rand.New(rand.NewSource(seed)),
	}, nil
}

func (g *Generator) Acquire(ctx context.Context) (map[string]waveform.Waveform, error) {
	if g.Count > 0 && g.done >= g.Count {
		return nil, io.EOF
	}
	if g.Rate > 0 && g.done > 0 {
		select {
		case <-time.After(g.Rate):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.done++

	s := synths[g.Protocol]
	return s.fn(g.rnd, anchor(time.Now(), s.timescale)), nil
}

func synthSWD(r *rand.Rand, tb waveform.Timebase) map[string]waveform.Waveform {
	frames := [][]byte{
		gen.Ones(56),
		gen.SWDSequence(swd.JTAGToSWD),
		gen.Ones(56),
		gen.Idle(4),
		gen.SWDTransaction(false, true, 0x0, swd.AckOK, r.Uint32()),
		gen.Idle(2),
		gen.SWDTransaction(true, false, uint8(r.Intn(4))<<2, swd.AckOK, r.Uint32()),
		gen.Idle(8),
	}
	bus := gen.NewBus(tb, "SWCLK", "SWDIO")
	tick := 0
	for _, f := range frames {
		tick = bus.Clocked("SWCLK", "SWDIO", tick, f)
	}
	return bus.Waveforms()
}

func synthSD(r *rand.Rand, tb waveform.Timebase) map[string]waveform.Waveform {
	codes := []uint8{2, 3, 8, 9, 13, 17, 24}
	idx := codes[r.Intn(len(codes))]
	frames := [][]byte{
		gen.Ones(4),
		gen.SDCommand(idx, r.Uint32()),
		gen.Ones(4),
		gen.SDResponse(idx, r.Uint32(), true),
		gen.Ones(4),
	}
	if idx == 2 || idx == 9 {
		reg := make([]byte, 15)
		r.Read(reg)
		frames[3] = gen.SDLongResponse(reg)
	}
	bus := gen.NewBus(tb, "CLK", "CMD")
	tick := 0
	for _, f := range frames {
		tick = bus.Clocked("CLK", "CMD", tick, f)
	}
	return bus.Waveforms()
}

func synthHyperRAM(r *rand.Rand, tb waveform.Timebase) map[string]waveform.Waveform {
	ca := hyperram.CA{
		Read:    r.Intn(2) == 1,
		Linear:  true,
		Address: r.Uint32() & 0xFFFFFF,
	}
	data := make([]byte, 2*(r.Intn(8)+1))
	r.Read(data)
	doubled := r.Intn(2) == 1
	latency := hyperram.DefaultLatency
	if doubled {
		latency *= 2
	}
	return gen.HyperRAM(tb, hyperram.EncodeCA(ca), latency, doubled, data).Waveforms()
}

func synthParallel(r *rand.Rand, tb waveform.Timebase) map[string]waveform.Waveform {
	words := make([]uint32, r.Intn(16)+1)
	for i := range words {
		words[i] = uint32(r.Intn(256))
	}
	return gen.Parallel(tb, 8, true, words).Waveforms()
}

func synthAutoneg(r *rand.Rand, tb waveform.Timebase) map[string]waveform.Waveform {
	page := r.Uint64() & (1<<49 - 1)
	page = page&^0x1F | 1
	bus := gen.NewBus(tb, "CLK", "DATA")
	tick := bus.Clocked("CLK", "DATA", 0, gen.Idle(6))
	tick = bus.Clocked("CLK", "DATA", tick, gen.AutonegPage(page, 0x0F))
	bus.Clocked("CLK", "DATA", tick, gen.Idle(2))
	return bus.Waveforms()
}

func synthDPHY(r *rand.Rand, tb waveform.Timebase) map[string]waveform.Waveform {
	payload := make([]byte, r.Intn(4)+1)
	r.Read(payload)
	states := gen.DPHYEscape(0xE1, payload, 60)
	states = append(states,
		gen.DPHYState{State: "LP01", Ticks: 60},
		gen.DPHYState{State: "LP00", Ticks: 60},
		gen.DPHYState{State: "HS0", Ticks: 40},
	)
	for i := 0; i < 16; i++ {
		s := "HS0"
		if r.Intn(2) == 1 {
			s = "HS1"
		}
		states = append(states, gen.DPHYState{State: s, Ticks: 2})
	}
	states = append(states, gen.DPHYState{State: "LP11", Ticks: 60})

	dp, dn := gen.DPHY(tb, states)
	return map[string]waveform.Waveform{"Dp": dp, "Dn": dn}
}
