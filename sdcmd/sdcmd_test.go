package sdcmd

import (
	"testing"

	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/gen"
	"github.com/bemasher/scopedecode/packet"
	"github.com/bemasher/scopedecode/waveform"
	"github.com/google/go-cmp/cmp"
)

var tb = waveform.Timebase{Timescale: 40 * waveform.NS}

func run(t *testing.T, frames ...[]byte) (*Decoder, *waveform.Sparse[Symbol]) {
	t.Helper()

	bus := gen.NewBus(tb, "CLK", "CMD")
	tick := bus.Clocked("CLK", "CMD", 0, gen.Ones(4))
	for _, f := range frames {
		tick = bus.Clocked("CLK", "CMD", tick, f)
		tick = bus.Clocked("CLK", "CMD", tick, gen.Ones(4))
	}
	lanes := bus.Render()

	d := NewDecoder()
	for slot, name := range []string{"CLK", "CMD"} {
		ch := decode.NewChannel(name, decode.Digital, decode.None)
		ch.Set(lanes[name])
		if err := decode.Connect(d, slot, ch.Ref()); err != nil {
			t.Fatal(err)
		}
	}
	d.Refresh()

	out, ok := d.Output(0).(*waveform.Sparse[Symbol])
	if !ok {
		t.Fatalf("expected symbol output, got %T", d.Output(0))
	}
	if err := out.Validate(); err != nil {
		t.Fatal(err)
	}
	return d, out
}

func types(s *waveform.Sparse[Symbol]) (ts []Type) {
	for _, sym := range s.Samples {
		ts = append(ts, sym.Type)
	}
	return ts
}

func TestReadSingleBlock(t *testing.T) {
	_, out := run(t, gen.SDCommand(17, 0x00012345))

	want := []Type{Header, Command, CommandArgs, CRCOK}
	if got := types(out); !cmp.Equal(got, want) {
		t.Fatalf("invalid symbol sequence:\n%s", cmp.Diff(want, got))
	}
	if cmd := out.Samples[1]; cmd.Data[0] != 17 || cmd.Cmd != 17 || cmd.String() != "CMD17" {
		t.Fatalf("invalid command: %+v", cmd)
	}
	if args := out.Samples[2]; args.Data[0] != 0x00012345 || args.Cmd != 17 {
		t.Fatalf("invalid args: %+v", args)
	}
}

func TestFlippedCRC(t *testing.T) {
	frame := gen.SDCommand(17, 0x00012345)
	frame[42] ^= 1

	_, out := run(t, frame)
	want := []Type{Header, Command, CommandArgs, CRCBad}
	if got := types(out); !cmp.Equal(got, want) {
		t.Fatalf("invalid symbol sequence:\n%s", cmp.Diff(want, got))
	}
}

func TestBadStopBit(t *testing.T) {
	frame := gen.SDCommand(17, 0x00012345)
	frame[47] = 0

	d, out := run(t, frame)
	want := []Type{Header, Command, CommandArgs, CRCOK, Error}
	if got := types(out); !cmp.Equal(got, want) {
		t.Fatalf("invalid symbol sequence:\n%s", cmp.Diff(want, got))
	}
	if c := d.Packets()[0].Color; c != packet.Error {
		t.Fatalf("expected error color, got %s", c)
	}
}

func TestResponseFormats(t *testing.T) {
	cid := []byte{0x03, 0x53, 0x44, 0x53, 0x55, 0x31, 0x36, 0x47, 0x80, 0x12, 0x34, 0x56, 0x78, 0x01, 0x4A}

	d, out := run(t,
		gen.SDCommand(8, 0x1AA),
		gen.SDResponse(8, 0x1AA, true),
		gen.SDCommand(55, 0),
		gen.SDResponse(55, 0x120, true),
		gen.SDCommand(41, 0x40FF8000),
		gen.SDResponse(0x3F, 0x00FF8000, false),
		gen.SDCommand(55, 0),
		gen.SDResponse(55, 0x120, true),
		gen.SDCommand(41, 0x40FF8000),
		gen.SDResponse(0x3F, 0xC0FF8000, false),
		gen.SDCommand(2, 0),
		gen.SDLongResponse(cid),
		gen.SDCommand(3, 0),
		gen.SDResponse(3, 0xAAAA0500, true),
	)

	var cmds []int
	for _, s := range out.Samples {
		if s.Type == CRCBad || s.Type == Error {
			t.Fatalf("unexpected %s in %v", s.Type, types(out))
		}
		if s.Type == Command {
			cmds = append(cmds, s.Cmd)
		}
	}
	want := []int{8, 8, 55, 55, 141, 141, 55, 55, 141, 141, 2, 2, 3, 3}
	if !cmp.Equal(cmds, want) {
		t.Fatalf("invalid command codes:\n%s", cmp.Diff(want, cmds))
	}

	for _, s := range out.Samples {
		if s.Type == ResponseArgs && s.Cmd == 2 {
			want := [4]uint32{0x03534453, 0x55313647, 0x80123456, 0x78014A00}
			if s.Data != want {
				t.Fatalf("invalid CID: %s", s)
			}
		}
	}

	// R3 responses carry no CRC: 14 frames, 2 without a CRC field.
	crcs := 0
	for _, s := range out.Samples {
		if s.Type == CRCOK {
			crcs++
		}
	}
	if crcs != 12 {
		t.Fatalf("expected 12 checked CRCs, got %d", crcs)
	}

	rows := packet.Rows(d)
	var codes, infos []string
	for _, r := range rows {
		codes = append(codes, r.Header("Code"))
		infos = append(infos, r.Header("Info"))
	}
	if want := []string{"CMD8", "ACMD41", "CMD2", "CMD3"}; !cmp.Equal(codes, want) {
		t.Fatalf("invalid rows:\n%s", cmp.Diff(want, codes))
	}
	if want := "OCR=C0FF8000 Ready (2 polls)"; infos[1] != want {
		t.Fatalf("invalid polling summary: %q", infos[1])
	}
	if want := "RCA=AAAA"; infos[3] != want {
		t.Fatalf("invalid RCA: %q", infos[3])
	}
	if n := len(rows[1].Children); n != 8 {
		t.Fatalf("expected 8 packets in the ACMD41 poll, got %d", n)
	}
	if n := len(d.Packets()); n != 14 {
		t.Fatalf("merging changed the packet list: %d packets", n)
	}
}

func TestCanMerge(t *testing.T) {
	var d Decoder
	pkt := func(typ, code string) *packet.Packet {
		return packet.NewBuilder(0).Header("Type", typ).Header("Code", code).Finish(1)
	}
	cmd := func(code string) *packet.Packet { return pkt("Command", code) }
	reply := func(code string) *packet.Packet { return pkt("Reply", code) }
	list := func(p ...*packet.Packet) []*packet.Packet { return p }

	poll := list(cmd("CMD55"), reply("CMD55"), cmd("ACMD41"), reply("ACMD41"))

	for _, tc := range []struct {
		name        string
		group, rest []*packet.Packet
		want        bool
	}{
		{"reply", list(cmd("CMD17")), list(reply("CMD17")), true},
		{"other reply", list(cmd("CMD17")), list(reply("CMD18")), false},
		{"acmd", list(cmd("CMD55"), reply("CMD55")), list(cmd("ACMD6")), true},
		{"not acmd", list(cmd("CMD55"), reply("CMD55")), list(cmd("CMD6")), false},
		{"poll", list(cmd("CMD13"), reply("CMD13")), list(cmd("CMD13")), true},
		{"no poll", list(cmd("CMD17"), reply("CMD17")), list(cmd("CMD17")), false},
		{"acmd41 poll", poll, list(cmd("CMD55"), reply("CMD55"), cmd("ACMD41")), true},
		{"acmd41 then acmd6", poll, list(cmd("CMD55"), reply("CMD55"), cmd("ACMD6")), false},
		{"acmd41 then lone cmd55", poll, list(cmd("CMD55"), reply("CMD55")), false},
	} {
		if got := d.CanMerge(tc.group, tc.rest); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPollEndsAtOtherACMD(t *testing.T) {
	d, _ := run(t,
		gen.SDCommand(55, 0),
		gen.SDResponse(55, 0x120, true),
		gen.SDCommand(41, 0x40FF8000),
		gen.SDResponse(0x3F, 0xC0FF8000, false),
		gen.SDCommand(55, 0x12340000),
		gen.SDResponse(55, 0x920, true),
		gen.SDCommand(6, 2),
		gen.SDResponse(6, 0x920, true),
	)

	rows := packet.Rows(d)
	var codes []string
	for _, r := range rows {
		codes = append(codes, r.Header("Code"))
	}
	if want := []string{"ACMD41", "ACMD6"}; !cmp.Equal(codes, want) {
		t.Fatalf("invalid rows:\n%s", cmp.Diff(want, codes))
	}
	for i, r := range rows {
		if n := len(r.Children); n != 4 {
			t.Fatalf("row %d: expected 4 packets, got %d", i, n)
		}
	}
}

func TestReplyWithoutCommand(t *testing.T) {
	d, out := run(t, gen.SDResponse(13, 0x900, true))

	want := []Type{Header, Command, ResponseArgs, CRCOK}
	if got := types(out); !cmp.Equal(got, want) {
		t.Fatalf("invalid symbol sequence:\n%s", cmp.Diff(want, got))
	}
	if got := out.Samples[1].String(); got != "?" {
		t.Fatalf("invalid code of an unsolicited reply: %q", got)
	}
	if got := d.Packets()[0].Header("Code"); got != "?" {
		t.Fatalf("invalid packet code: %q", got)
	}
}
