package dphy

import (
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/gen"
	"github.com/bemasher/scopedecode/packet"
	"github.com/bemasher/scopedecode/waveform"
	"github.com/google/go-cmp/cmp"
)

var tb = waveform.Timebase{Timescale: 10 * waveform.NS}

func states(ss ...gen.DPHYState) []gen.DPHYState { return ss }

// pipeline wires Dp/Dn through the line state and escape decoders.
func pipeline(t *testing.T, seq []gen.DPHYState, differential bool) (*Decoder, *EscapeDecoder) {
	t.Helper()

	dp, dn := gen.DPHY(tb, seq)
	chp := decode.NewChannel("Dp", decode.Analog, decode.Volts)
	chp.Set(dp)
	chn := decode.NewChannel("Dn", decode.Analog, decode.Volts)
	chn.Set(dn)

	sym := NewDecoder()
	esc := NewEscapeDecoder()

	g := decode.NewGraph()
	g.Add(chp)
	g.Add(chn)
	g.Add(sym)
	g.Add(esc)
	if err := g.Connect(sym, 0, chp, 0); err != nil {
		t.Fatal(err)
	}
	if differential {
		if err := g.Connect(sym, 1, chn, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Connect(esc, 0, sym, 0); err != nil {
		t.Fatal(err)
	}
	g.Refresh()

	return sym, esc
}

func lineStates(t *testing.T, d *Decoder) *waveform.Sparse[Symbol] {
	t.Helper()
	out, ok := d.Output(0).(*waveform.Sparse[Symbol])
	if !ok {
		t.Fatalf("expected line state output, got %T", d.Output(0))
	}
	if err := out.Validate(); err != nil {
		t.Fatal(err)
	}
	return out
}

func escapes(t *testing.T, d *EscapeDecoder) *waveform.Sparse[EscapeSymbol] {
	t.Helper()
	out, ok := d.Output(0).(*waveform.Sparse[EscapeSymbol])
	if !ok {
		t.Fatalf("expected escape output, got %T", d.Output(0))
	}
	if err := out.Validate(); err != nil {
		t.Fatal(err)
	}
	return out
}

func total(s *waveform.Sparse[Symbol]) (n int64) {
	for _, d := range s.Durations {
		n += d
	}
	return n
}

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		dp, dn       float32
		differential bool
		want         Symbol
	}{
		{1.2, 1.2, true, LP11},
		{1.2, 0, true, LP10},
		{0, 1.2, true, LP01},
		{0, 0, true, LP00},
		{0.2, 0.2, true, LP00},
		{0.3, 0.1, true, HS1},
		{0.1, 0.3, true, HS0},
		{1.2, 0, false, LP11},
		{0.3, 0, false, HS1},
		{0.1, 0, false, HS0},
	} {
		if got := Classify(tc.dp, tc.dn, tc.differential); got != tc.want {
			t.Errorf("Classify(%v, %v, %v) = %s, want %s", tc.dp, tc.dn, tc.differential, got, tc.want)
		}
	}
}

func TestSymbolsDifferential(t *testing.T) {
	sym, _ := pipeline(t, states(
		gen.DPHYState{State: "LP11", Ticks: 10},
		gen.DPHYState{State: "LP01", Ticks: 10},
		gen.DPHYState{State: "LP00", Ticks: 10},
		gen.DPHYState{State: "HS0", Ticks: 10},
		gen.DPHYState{State: "HS1", Ticks: 10},
		gen.DPHYState{State: "LP00", Ticks: 10},
		gen.DPHYState{State: "LP11", Ticks: 10},
	), true)
	out := lineStates(t, sym)

	want := []Symbol{LP11, LP01, LP00, HS0, HS1, LP00, LP11}
	if !cmp.Equal(out.Samples, want) {
		t.Fatalf("invalid states:\n%s", cmp.Diff(want, out.Samples))
	}

	// LP crossings sit halfway between readings. Entering HS-0 crosses the
	// -70 mV threshold early in the step.
	wantDur := []int64{10, 10, 9, 11, 10, 10, 10}
	if !cmp.Equal(out.Durations, wantDur) {
		t.Fatalf("invalid durations:\n%s", cmp.Diff(wantDur, out.Durations))
	}
	if out.Offsets[0] != 0 || total(out) != 70 {
		t.Fatalf("states do not cover the capture: offset=%d, total=%d", out.Offsets[0], total(out))
	}
}

func TestSymbolsSingleEnded(t *testing.T) {
	sym, _ := pipeline(t, states(
		gen.DPHYState{State: "LP11", Ticks: 10},
		gen.DPHYState{State: "HS0", Ticks: 10},
		gen.DPHYState{State: "HS1", Ticks: 10},
		gen.DPHYState{State: "LP11", Ticks: 10},
	), false)
	out := lineStates(t, sym)

	want := []Symbol{LP11, HS0, HS1, LP11}
	if !cmp.Equal(out.Samples, want) {
		t.Fatalf("invalid states:\n%s", cmp.Diff(want, out.Samples))
	}
	if total(out) != 40 {
		t.Fatalf("invalid total duration: %d", total(out))
	}
}

func sparse(ss []Symbol, ds []int64) *waveform.Sparse[Symbol] {
	s := &waveform.Sparse[Symbol]{}
	var off int64
	for i := range ss {
		s.Push(off, ds[i], ss[i])
		off += ds[i]
	}
	return s
}

func TestFilterGlitches(t *testing.T) {
	s := sparse(
		[]Symbol{LP11, LP10, LP11, HS0, LP00},
		[]int64{10, 2, 10, 3, 10},
	)
	FilterGlitches(s, 5)

	if want := []Symbol{LP11, HS0, LP00}; !cmp.Equal(s.Samples, want) {
		t.Fatalf("invalid states:\n%s", cmp.Diff(want, s.Samples))
	}
	if want := []int64{0, 22, 25}; !cmp.Equal(s.Offsets, want) {
		t.Fatalf("invalid offsets:\n%s", cmp.Diff(want, s.Offsets))
	}
	if want := []int64{22, 3, 10}; !cmp.Equal(s.Durations, want) {
		t.Fatalf("invalid durations:\n%s", cmp.Diff(want, s.Durations))
	}
}

func TestHoldPrepare(t *testing.T) {
	s := sparse(
		[]Symbol{LP00, HS0, LP00, HS0, LP11},
		[]int64{2, 10, 3, 1, 5},
	)
	HoldPrepare(s, 4)

	if want := []Symbol{LP00, HS0, LP00, LP11}; !cmp.Equal(s.Samples, want) {
		t.Fatalf("invalid states:\n%s", cmp.Diff(want, s.Samples))
	}
	if want := []int64{0, 4, 12, 16}; !cmp.Equal(s.Offsets, want) {
		t.Fatalf("invalid offsets:\n%s", cmp.Diff(want, s.Offsets))
	}
	if want := []int64{4, 8, 4, 5}; !cmp.Equal(s.Durations, want) {
		t.Fatalf("invalid durations:\n%s", cmp.Diff(want, s.Durations))
	}
}

func TestFiltersConserveDuration(t *testing.T) {
	err := quick.Check(func(seed int64) bool {
		r := rand.New(rand.NewSource(seed))
		n := r.Intn(50) + 1
		ss := make([]Symbol, n)
		ds := make([]int64, n)
		var want int64
		for i := range ss {
			ss[i] = Symbol(r.Intn(6))
			ds[i] = int64(r.Intn(12) + 1)
			want += ds[i]
		}

		s := sparse(ss, ds)
		FilterGlitches(s, 5)
		HoldPrepare(s, 4)

		if total(s) != want || s.Offsets[0] != 0 {
			return false
		}
		for i := 1; i < s.Len(); i++ {
			if s.Offsets[i] != s.Offsets[i-1]+s.Durations[i-1] || s.Samples[i] == s.Samples[i-1] {
				return false
			}
		}
		return true
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func escapeTypes(s *waveform.Sparse[EscapeSymbol]) (ts []EscapeType) {
	for _, sym := range s.Samples {
		ts = append(ts, sym.Type)
	}
	return ts
}

func TestEscapeLPDT(t *testing.T) {
	payload := []byte{0x12, 0xAB}
	seq := append(states(gen.DPHYState{State: "LP11", Ticks: 20}), gen.DPHYEscape(CmdLPDT, payload, 10)...)
	_, esc := pipeline(t, seq, true)
	out := escapes(t, esc)

	want := []EscapeSymbol{{Entry, 0}, {Command, CmdLPDT}, {Data, 0x12}, {Data, 0xAB}, {Exit, 0}}
	if !cmp.Equal(out.Samples, want) {
		t.Fatalf("invalid escape symbols:\n%s", cmp.Diff(want, out.Samples))
	}

	// Entry is four states, each byte sixteen.
	if got := out.Durations[0]; got != 40 {
		t.Fatalf("invalid entry duration: %d", got)
	}
	if got := out.Durations[2]; got != 160 {
		t.Fatalf("invalid data duration: %d", got)
	}

	pkts := esc.Packets()
	if len(pkts) != 1 {
		t.Fatalf("expected one packet, got %d", len(pkts))
	}
	p := pkts[0]
	if p.Header("Command") != "LPDT" || p.Header("Len") != "2" || p.Color != packet.DataWrite {
		t.Fatalf("invalid packet: %+v", p)
	}
	if !cmp.Equal(p.Data, payload) {
		t.Fatalf("invalid packet data:\n%s", cmp.Diff(payload, p.Data))
	}
}

func TestEscapeULPS(t *testing.T) {
	_, esc := pipeline(t, gen.DPHYEscape(CmdULPS, nil, 10), true)
	out := escapes(t, esc)

	if want := []EscapeType{Entry, Command, Exit}; !cmp.Equal(escapeTypes(out), want) {
		t.Fatalf("invalid escape symbols:\n%s", cmp.Diff(want, escapeTypes(out)))
	}
	if got := out.Samples[1].String(); got != "ULPS" {
		t.Fatalf("invalid command: %s", got)
	}
	if p := esc.Packets()[0]; p.Color != packet.Control {
		t.Fatalf("invalid packet color: %s", p.Color)
	}
}

func TestEscapeInterruptedByHS(t *testing.T) {
	_, esc := pipeline(t, states(
		gen.DPHYState{State: "LP11", Ticks: 10},
		gen.DPHYState{State: "LP10", Ticks: 10},
		gen.DPHYState{State: "LP00", Ticks: 10},
		gen.DPHYState{State: "HS0", Ticks: 10},
		gen.DPHYState{State: "LP11", Ticks: 10},
	), true)
	out := escapes(t, esc)

	if want := []EscapeType{Error}; !cmp.Equal(escapeTypes(out), want) {
		t.Fatalf("invalid escape symbols:\n%s", cmp.Diff(want, escapeTypes(out)))
	}
	if len(esc.Packets()) != 0 {
		t.Fatalf("unexpected packets: %+v", esc.Packets())
	}
}

func TestEscapeWithoutInput(t *testing.T) {
	d := NewEscapeDecoder()
	d.Refresh()
	if d.Output(0) != nil {
		t.Fatal("decoder without inputs published output")
	}
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{"dphy", "dphy-escape"} {
		if _, err := decode.New(name); err != nil {
			t.Fatal(err)
		}
	}
}
