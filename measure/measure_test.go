package measure

import (
	"math"
	"testing"

	"github.com/bemasher/scopedecode/compute"
	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/waveform"
	"github.com/google/go-cmp/cmp"
)

var tb = waveform.Timebase{Timescale: waveform.NS}

func constant(v float32, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func ramp(up bool) (s []float32) {
	for i := 1; i < 10; i++ {
		v := float32(i) / 10
		if !up {
			v = 1 - v
		}
		s = append(s, v)
	}
	return s
}

func trapezoid(periods int) *waveform.Uniform[float32] {
	u := &waveform.Uniform[float32]{Timebase: tb}
	for p := 0; p < periods; p++ {
		u.Samples = append(u.Samples, constant(0, 40)...)
		u.Samples = append(u.Samples, ramp(true)...)
		u.Samples = append(u.Samples, constant(1, 40)...)
		u.Samples = append(u.Samples, ramp(false)...)
	}
	return u
}

func TestKahan(t *testing.T) {
	var k Kahan
	for i := 0; i < 1000000; i++ {
		k.Add(0.1)
	}
	if math.Abs(k.Sum()-100000) > 1e-9 {
		t.Fatalf("compensated sum drifted: %.12f", k.Sum())
	}
}

func TestStats(t *testing.T) {
	var s Stats
	if !math.IsNaN(s.Avg()) {
		t.Fatal("empty stats has an average")
	}
	for _, v := range []float64{3, -1, 4} {
		s.Add(v)
	}
	if s.N != 3 || s.Min != -1 || s.Max != 4 || s.Avg() != 2 {
		t.Fatalf("invalid stats: %+v avg=%v", s, s.Avg())
	}
}

func TestEdgeTimes(t *testing.T) {
	const want = 5.94e-9

	for _, tc := range []struct {
		name string
		node *EdgeTime
	}{
		{"rise", NewRiseTime()},
		{"fall", NewFallTime()},
		{"rise parallel", NewRiseTime(WithBackend(compute.Parallel{Workers: 2}))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ch := decode.NewChannel("CH1", decode.Analog, decode.Volts)
			ch.Set(trapezoid(3))
			if err := decode.Connect(tc.node, 0, ch.Ref()); err != nil {
				t.Fatal(err)
			}
			tc.node.Refresh()

			trend, ok := tc.node.Output(0).(*waveform.Sparse[float32])
			if !ok {
				t.Fatalf("no trend published, errors: %v", tc.node.Errors())
			}
			if err := trend.Validate(); err != nil {
				t.Fatal(err)
			}
			if trend.Len() != 3 {
				t.Fatalf("expected 3 edges, got %d", trend.Len())
			}
			for i, v := range trend.Samples {
				if math.Abs(float64(v)-want) > 1e-12 {
					t.Fatalf("edge %d: got=%g, want=%g", i, v, want)
				}
			}
			if avg := tc.node.OutputStream(1).Value; math.Abs(avg-want) > 1e-12 {
				t.Fatalf("invalid average: %g", avg)
			}
		})
	}
}

func TestRuntIgnored(t *testing.T) {
	u := &waveform.Uniform[float32]{Timebase: tb}
	u.Samples = append(u.Samples, constant(0, 40)...)
	u.Samples = append(u.Samples, 0.5)
	u.Samples = append(u.Samples, constant(0, 40)...)
	u.Samples = append(u.Samples, ramp(true)...)
	u.Samples = append(u.Samples, constant(1, 40)...)

	trend, err := RiseTime(compute.Scalar{}, u, DefaultLow, DefaultHigh)
	if err != nil {
		t.Fatal(err)
	}
	if trend.Len() != 1 {
		t.Fatalf("expected the runt to be ignored, got %d edges", trend.Len())
	}
}

func TestInvalidThresholds(t *testing.T) {
	e := NewRiseTime(WithThresholds(80, 20))
	ch := decode.NewChannel("CH1", decode.Analog, decode.Volts)
	ch.Set(trapezoid(1))
	if err := decode.Connect(e, 0, ch.Ref()); err != nil {
		t.Fatal(err)
	}
	e.Refresh()
	if e.Output(0) != nil || len(e.Errors()) != 1 {
		t.Fatalf("expected configuration error, got output=%v errors=%v", e.Output(0), e.Errors())
	}
}

func TestOvershoot(t *testing.T) {
	u := &waveform.Uniform[float32]{Timebase: tb}
	for p := 0; p < 4; p++ {
		u.Samples = append(u.Samples, -0.1)
		u.Samples = append(u.Samples, constant(0, 30)...)
		u.Samples = append(u.Samples, 1.2)
		u.Samples = append(u.Samples, constant(1, 30)...)
	}

	o := NewOvershoot()
	ch := decode.NewChannel("CH1", decode.Analog, decode.Volts)
	ch.Set(u)
	if err := decode.Connect(o, 0, ch.Ref()); err != nil {
		t.Fatal(err)
	}
	o.Refresh()

	if over := o.OutputStream(0).Value; math.Abs(over-20) > 1.5 {
		t.Fatalf("invalid overshoot: %v%%", over)
	}
	if under := o.OutputStream(1).Value; math.Abs(under-10) > 1.5 {
		t.Fatalf("invalid undershoot: %v%%", under)
	}
}

func TestClassify(t *testing.T) {
	levels := []float32{-3, -1, 1, 3}
	for v, want := range map[float32]int{-4: 0, -2.1: 0, -1.9: 1, 0.5: 2, 2.5: 3, 9: 3} {
		if got := Classify(levels, v); got != want {
			t.Errorf("Classify(%v) = %d, want %d", v, got, want)
		}
	}
}

func TestPAMEdges(t *testing.T) {
	symbols := []int{0, 3, 1, 2, 0, 2, 3, 1}
	u := &waveform.Uniform[float32]{Timebase: tb}
	for _, s := range symbols {
		u.Samples = append(u.Samples, constant(float32(2*s-3), 10)...)
	}

	p := NewPAM(4)
	ch := decode.NewChannel("CH1", decode.Analog, decode.Volts)
	ch.Set(u)
	if err := decode.Connect(p, 0, ch.Ref()); err != nil {
		t.Fatal(err)
	}
	p.Refresh()

	edges, ok := p.Output(0).(*waveform.Sparse[Transition])
	if !ok {
		t.Fatalf("no edges published, errors: %v", p.Errors())
	}
	if err := edges.Validate(); err != nil {
		t.Fatal(err)
	}

	var want []Transition
	for i := 1; i < len(symbols); i++ {
		want = append(want, Transition{symbols[i-1], symbols[i]})
	}
	if !cmp.Equal(edges.Samples, want) {
		t.Fatalf("invalid transitions:\n%s", cmp.Diff(want, edges.Samples))
	}
	for i, off := range edges.Offsets {
		if d := off - int64(10*(i+1)); d < -1 || d > 1 {
			t.Fatalf("transition %d at tick %d", i, off)
		}
	}
	if last := edges.Len() - 1; edges.Offsets[last]+edges.Durations[last] != int64(u.Len()) {
		t.Fatal("last transition does not extend to the end of the capture")
	}
}

func TestPAMTooFewLevels(t *testing.T) {
	u := &waveform.Uniform[float32]{Timebase: tb, Samples: append(constant(0, 10), constant(1, 10)...)}
	if _, _, err := PAMEdges(compute.Scalar{}, u, 4); err == nil {
		t.Fatal("expected error for two level signal")
	}
}

func TestDRAMTiming(t *testing.T) {
	cmds := &waveform.Sparse[DRAMCommand]{Timebase: tb}
	for _, c := range []struct {
		at  int64
		cmd DRAMCommand
	}{
		{0, DRAMCommand{ACT, 0}},
		{5, DRAMCommand{ACT, 1}},
		{20, DRAMCommand{RD, 1}},
		{30, DRAMCommand{WR, 0}},
		{40, DRAMCommand{RD, 0}},
		{50, DRAMCommand{PRE, AllBanks}},
		{70, DRAMCommand{ACT, 0}},
		{85, DRAMCommand{RD, 0}},
	} {
		cmds.Push(c.at, 1, c.cmd)
	}

	ch := decode.NewChannel("DDR", decode.Protocol, decode.None)
	ch.Set(cmds)
	d := NewDRAM()
	if err := decode.Connect(d, 0, ch.Ref()); err != nil {
		t.Fatal(err)
	}
	d.Refresh()

	trcd := d.Output(0).(*waveform.Sparse[float32])
	trp := d.Output(1).(*waveform.Sparse[float32])
	for _, w := range []*waveform.Sparse[float32]{trcd, trp} {
		if err := w.Validate(); err != nil {
			t.Fatal(err)
		}
	}

	seconds := func(w *waveform.Sparse[float32]) (ns []float64) {
		for _, v := range w.Samples {
			ns = append(ns, math.Round(float64(v)*1e9))
		}
		return ns
	}
	if got, want := seconds(trcd), []float64{30, 15, 15}; !cmp.Equal(got, want) {
		t.Fatalf("invalid tRCD:\n%s", cmp.Diff(want, got))
	}
	if got, want := trcd.Offsets, []int64{0, 5, 70}; !cmp.Equal(got, want) {
		t.Fatalf("invalid tRCD offsets:\n%s", cmp.Diff(want, got))
	}
	if got, want := seconds(trp), []float64{20}; !cmp.Equal(got, want) {
		t.Fatalf("invalid tRP:\n%s", cmp.Diff(want, got))
	}
	if min := d.OutputStream(2).Value; math.Abs(min-15e-9) > 1e-15 {
		t.Fatalf("invalid tRCD minimum: %g", min)
	}
}

func TestDRAMPrechargeAllUnseenBank(t *testing.T) {
	cmds := &waveform.Sparse[DRAMCommand]{Timebase: tb}
	cmds.Push(0, 1, DRAMCommand{PRE, AllBanks})
	cmds.Push(15, 1, DRAMCommand{ACT, 2})
	cmds.Push(20, 1, DRAMCommand{PRE, 1})
	cmds.Push(30, 1, DRAMCommand{ACT, 1})

	_, trp := DRAMTiming(cmds)
	if err := trp.Validate(); err != nil {
		t.Fatal(err)
	}

	var ns []float64
	for _, v := range trp.Samples {
		ns = append(ns, math.Round(float64(v)*1e9))
	}
	if want := []float64{15, 10}; !cmp.Equal(ns, want) {
		t.Fatalf("invalid tRP:\n%s", cmp.Diff(want, ns))
	}
	if want := []int64{0, 20}; !cmp.Equal(trp.Offsets, want) {
		t.Fatalf("invalid tRP offsets:\n%s", cmp.Diff(want, trp.Offsets))
	}
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{"risetime", "falltime", "overshoot", "pam", "dramtiming"} {
		if _, err := decode.New(name); err != nil {
			t.Fatal(err)
		}
	}
}
