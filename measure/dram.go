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

package measure

import (
	"fmt"
	"sort"

	"github.com/bemasher/scopedecode/waveform"
)

// Command is a decoded DRAM command.
type Command int

const (
	NOP Command = iota
	ACT
	RD
	WR
	PRE
	REF
)

var commandNames = [...]string{"NOP", "ACT", "RD", "WR", "PRE", "REF"}

func (c Command) String() string {
	if c < 0 || int(c) >= len(commandNames) {
		return fmt.Sprintf("Command(%d)", int(c))
	}
	return commandNames[c]
}

// AllBanks addresses every bank, as a precharge-all does.
const AllBanks = -1

// DRAMCommand is one command on the DRAM command bus.
type DRAMCommand struct {
	Cmd  Command
	Bank int
}

func (c DRAMCommand) String() string {
	if c.Bank == AllBanks {
		return c.Cmd.String() + " all"
	}
	return fmt.Sprintf("%s b%d", c.Cmd, c.Bank)
}

type bank struct {
	act, pre       int64
	opened, closed bool
}

type interval struct {
	t0, t1 int64
}

// publish orders intervals by start. Intervals of different banks may
// overlap; each is clipped at the start of the next.
func publish(ref waveform.Waveform, ivs []interval) *waveform.Sparse[float32] {
	sort.SliceStable(ivs, func(i, j int) bool { return ivs[i].t0 < ivs[j].t0 })
	out := waveform.NewSparseLike[float32](ref)
	for _, iv := range ivs {
		pushInterval(out, iv.t0, iv.t1)
	}
	out.Resolve()
	return out
}

// DRAMTiming measures tRCD (ACT to the first RD or WR of the same bank) and
// tRP (PRE to the next ACT of the same bank) intervals. Each trend sample
// starts at the first command of its pair and holds the interval in seconds.
func DRAMTiming(cmds waveform.Series[DRAMCommand]) (trcd, trp *waveform.Sparse[float32]) {
	var rcd, rp []interval

	// Banks first addressed after a precharge-all start out closed by it.
	var all bank
	banks := map[int]*bank{}
	get := func(n int) *bank {
		b, ok := banks[n]
		if !ok {
			b = &bank{pre: all.pre, closed: all.closed}
			banks[n] = b
		}
		return b
	}

	for i := 0; i < cmds.Len(); i++ {
		c := cmds.Value(i)
		now := waveform.OffsetScaled(cmds, i)

		switch c.Cmd {
		case ACT:
			b := get(c.Bank)
			if b.closed {
				rp = append(rp, interval{b.pre, now})
			}
			b.act, b.opened, b.closed = now, true, false

		case RD, WR:
			if b := get(c.Bank); b.opened {
				rcd = append(rcd, interval{b.act, now})
				b.opened = false
			}

		case PRE:
			if c.Bank != AllBanks {
				b := get(c.Bank)
				b.pre, b.closed, b.opened = now, true, false
				continue
			}
			all.pre, all.closed = now, true
			for _, b := range banks {
				b.pre, b.closed, b.opened = now, true, false
			}
		}
	}

	return publish(cmds, rcd), publish(cmds, rp)
}
