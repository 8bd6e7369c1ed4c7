package hyperram

import (
	"strconv"
	"testing"

	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/gen"
	"github.com/bemasher/scopedecode/packet"
	"github.com/bemasher/scopedecode/waveform"
	"github.com/google/go-cmp/cmp"
)

var tb = waveform.Timebase{Timescale: 5 * waveform.NS}

func lanes() []string {
	names := []string{gen.HyperCK, gen.HyperCS, gen.HyperRWDS}
	for i := 0; i < 8; i++ {
		names = append(names, gen.HyperDQ+strconv.Itoa(i))
	}
	return names
}

func run(t *testing.T, bus *gen.Bus, opts ...Option) (*Decoder, *waveform.Sparse[Symbol]) {
	t.Helper()

	rendered := bus.Render()
	d := NewDecoder(opts...)
	for slot, name := range lanes() {
		ch := decode.NewChannel(name, decode.Digital, decode.None)
		ch.Set(rendered[name])
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

func data(s *waveform.Sparse[Symbol]) (bs []byte) {
	for _, sym := range s.Samples {
		if sym.Type == Data {
			bs = append(bs, byte(sym.Data))
		}
	}
	return bs
}

func TestCARoundTrip(t *testing.T) {
	c := CA{Read: true, Linear: true, Address: 0x1234}
	ca := EncodeCA(c)
	if ca>>47 != 1 || ca>>46&1 != 0 || ca>>45&1 != 1 {
		t.Fatalf("invalid command bits: %012X", ca)
	}
	if got := DecodeCA(ca); got != c {
		t.Fatalf("round trip failed: got=%+v, want=%+v", got, c)
	}
	if got := c.String(); got != "Read Mem Linear 00001234" {
		t.Fatalf("invalid string: %q", got)
	}
}

func TestRead(t *testing.T) {
	ca := EncodeCA(CA{Read: true, Linear: true, Address: 0x1234})
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	d, out := run(t, gen.HyperRAM(tb, ca, DefaultLatency, false, payload))

	want := []Type{CommandAddress, Wait, Data, Data, Data, Data, Deselect}
	if got := types(out); !cmp.Equal(got, want) {
		t.Fatalf("invalid symbol sequence:\n%s", cmp.Diff(want, got))
	}
	if got := out.Samples[0].Data; got != ca {
		t.Fatalf("invalid CA: got=%012X, want=%012X", got, ca)
	}
	if got := out.Samples[1].Data; got != DefaultLatency {
		t.Fatalf("invalid latency: %d", got)
	}
	if got := data(out); !cmp.Equal(got, payload) {
		t.Fatalf("invalid data:\n%s", cmp.Diff(payload, got))
	}

	// Data windows run between RWDS edges.
	for i := 2; i < 6; i++ {
		if got := out.Durations[i]; got != 2 {
			t.Fatalf("symbol %d: invalid duration %d", i, got)
		}
	}

	pkts := d.Packets()
	if len(pkts) != 1 {
		t.Fatalf("expected one packet, got %d", len(pkts))
	}
	p := pkts[0]
	for name, want := range map[string]string{
		"Op":      "Read",
		"Space":   "Memory",
		"Burst":   "Linear",
		"Address": "00001234",
		"Latency": "6",
		"Len":     "4",
	} {
		if got := p.Header(name); got != want {
			t.Errorf("header %s: got=%q, want=%q", name, got, want)
		}
	}
	if p.Color != packet.DataRead {
		t.Errorf("invalid color: %s", p.Color)
	}
	if !cmp.Equal(p.Data, payload) {
		t.Errorf("invalid packet data:\n%s", cmp.Diff(payload, p.Data))
	}
}

func TestWriteDoubledLatency(t *testing.T) {
	ca := EncodeCA(CA{Address: 0x40})
	payload := []byte{0x01, 0x02, 0x03}
	d, out := run(t, gen.HyperRAM(tb, ca, 2*DefaultLatency, true, payload))

	want := []Type{CommandAddress, Wait, Data, Data, Data, Deselect}
	if got := types(out); !cmp.Equal(got, want) {
		t.Fatalf("invalid symbol sequence:\n%s", cmp.Diff(want, got))
	}
	if got := out.Samples[1].Data; got != 2*DefaultLatency {
		t.Fatalf("invalid latency: %d", got)
	}
	if got := data(out); !cmp.Equal(got, payload) {
		t.Fatalf("invalid data:\n%s", cmp.Diff(payload, got))
	}

	// The last latency edge is at tick 64; the first byte is centered on the
	// following clock edge at 66.
	if got, want := out.Offsets[2], int64(65); got != want {
		t.Fatalf("invalid first data offset: got=%d, want=%d", got, want)
	}

	p := d.Packets()[0]
	if p.Header("Op") != "Write" || p.Header("Latency") != "12" || p.Color != packet.DataWrite {
		t.Fatalf("invalid packet: %+v", p)
	}
}

func TestLatencyOption(t *testing.T) {
	ca := EncodeCA(CA{Read: true, Address: 0x10})
	payload := []byte{0x5A, 0xA5}
	_, out := run(t, gen.HyperRAM(tb, ca, 3, false, payload), WithLatency(3))

	if got := data(out); !cmp.Equal(got, payload) {
		t.Fatalf("invalid data:\n%s", cmp.Diff(payload, got))
	}
}

func TestRegisterWrite(t *testing.T) {
	ca := EncodeCA(CA{RegisterSpace: true, Address: 0x800})
	payload := []byte{0x8F, 0x1F}
	d, out := run(t, gen.HyperRAM(tb, ca, 0, false, payload))

	want := []Type{CommandAddress, Data, Data, Deselect}
	if got := types(out); !cmp.Equal(got, want) {
		t.Fatalf("invalid symbol sequence:\n%s", cmp.Diff(want, got))
	}
	if got := data(out); !cmp.Equal(got, payload) {
		t.Fatalf("invalid data:\n%s", cmp.Diff(payload, got))
	}
	if got := d.Packets()[0].Header("Latency"); got != "0" {
		t.Fatalf("register writes have no latency, got %s", got)
	}
}

func TestTruncatedCA(t *testing.T) {
	bus := gen.NewBus(tb, lanes()...)
	bus.Set(gen.HyperCS, 0, true)
	bus.Set(gen.HyperCS, 4, false)
	for k := 0; k < 3; k++ {
		bus.Set(gen.HyperCK, 8+2*k, k%2 == 0)
	}
	bus.Set(gen.HyperCS, 16, true)
	bus.Extend(20)

	d, out := run(t, bus)

	want := []Type{Error, Deselect}
	if got := types(out); !cmp.Equal(got, want) {
		t.Fatalf("invalid symbol sequence:\n%s", cmp.Diff(want, got))
	}
	if got := d.Packets(); len(got) != 1 || got[0].Color != packet.Error {
		t.Fatalf("expected one error packet, got %+v", got)
	}
}

func TestMissingInput(t *testing.T) {
	d := NewDecoder()
	d.Refresh()
	if d.Output(0) != nil {
		t.Fatal("decoder without inputs published output")
	}
}

func TestRegistered(t *testing.T) {
	d, err := decode.New("hyperram")
	if err != nil {
		t.Fatal(err)
	}
	if d.Protocol() != "HyperRAM" {
		t.Fatalf("invalid protocol: %s", d.Protocol())
	}
}
