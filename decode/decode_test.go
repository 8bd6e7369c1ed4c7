package decode

import (
	"testing"

	"github.com/bemasher/scopedecode/waveform"
	"github.com/google/go-cmp/cmp"
)

// invert is a minimal digital decoder used to exercise the framework.
type invert struct {
	Base
	refreshed *[]string
}

func newInvert(name string, log *[]string) *invert {
	d := &invert{refreshed: log}
	d.Init(name)
	d.CreateInput("IN")
	d.AddOutputStream(None, "OUT", Digital)
	return d
}

func (d *invert) Protocol() string { return "invert" }

func (d *invert) ValidateChannel(slot int, s *Stream) bool {
	return slot == 0 && IsDigital(s)
}

func (d *invert) Refresh() {
	*d.refreshed = append(*d.refreshed, d.Name())

	in, ok := Input[bool](d.Ports(), 0)
	if !ok {
		d.SetOutput(nil, 0)
		return
	}

	out := waveform.NewSparseLike[bool](in)
	for i := 0; i < in.Len(); i++ {
		out.Push(in.Offset(i), in.Duration(i), !in.Value(i))
	}
	d.SetOutput(out, 0)
}

func TestConnectValidates(t *testing.T) {
	var log []string
	d := newInvert("inv", &log)

	analog := NewChannel("CH1", Analog, Volts)
	if err := Connect(d, 0, analog.Ref()); err == nil {
		t.Fatal("expected analog stream to be rejected")
	}

	digital := NewChannel("D0", Digital, None)
	if err := Connect(d, 0, digital.Ref()); err != nil {
		t.Fatal(err)
	}
	if err := Connect(d, 3, digital.Ref()); err == nil {
		t.Fatal("expected invalid slot to be rejected")
	}
	if got := d.Input(0).String(); got != "D0.D0" {
		t.Fatalf("invalid input reference: %q", got)
	}
}

func TestMissingInputPublishesNothing(t *testing.T) {
	var log []string
	d := newInvert("inv", &log)
	d.Refresh()
	if d.Output(0) != nil {
		t.Fatal("expected nil output without input")
	}

	ch := NewChannel("D0", Digital, None)
	if err := Connect(d, 0, ch.Ref()); err != nil {
		t.Fatal(err)
	}
	d.Refresh()
	if d.Output(0) != nil {
		t.Fatal("expected nil output for a channel without data")
	}
}

func TestGraphRefreshOrder(t *testing.T) {
	var log []string

	ch := NewChannel("D0", Digital, None)
	ch.Set(&waveform.Uniform[bool]{
		Timebase: waveform.Timebase{Timescale: waveform.NS},
		Samples:  []bool{true, false, true},
	})

	a := newInvert("a", &log)
	b := newInvert("b", &log)

	g := NewGraph()
	g.Add(b)
	g.Add(a)
	g.Add(ch)

	if err := g.Connect(a, 0, ch, 0); err != nil {
		t.Fatal(err)
	}
	if err := g.Connect(b, 0, a, 0); err != nil {
		t.Fatal(err)
	}
	if err := g.Connect(a, 0, b, 0); err == nil {
		t.Fatal("expected cycle to be rejected")
	}

	g.Refresh()

	if !cmp.Equal(log, []string{"a", "b"}) {
		t.Fatalf("invalid refresh order: %v", log)
	}

	out, ok := waveform.As[bool](b.Output(0))
	if !ok {
		t.Fatal("expected digital output")
	}
	for i, want := range []bool{true, false, true} {
		if out.Value(i) != want {
			t.Fatalf("sample %d: got %v, want %v", i, out.Value(i), want)
		}
	}
	if out.Timing().Timescale != waveform.NS {
		t.Fatalf("timebase not propagated: %+v", *out.Timing())
	}
}

func TestErrors(t *testing.T) {
	var log []string
	d := newInvert("inv", &log)
	d.AddError("taps (%d) exceed limit", 9000)
	if got := d.Errors(); len(got) != 1 || got[0] != "taps (9000) exceed limit" {
		t.Fatalf("invalid errors: %q", got)
	}
	d.ClearErrors()
	if len(d.Errors()) != 0 {
		t.Fatal("expected errors to be cleared")
	}
}

func TestRegistry(t *testing.T) {
	Register("test-invert", func() Decoder {
		var log []string
		return newInvert("inv", &log)
	})

	d, err := New("test-invert")
	if err != nil {
		t.Fatal(err)
	}
	if d.Protocol() != "invert" {
		t.Fatalf("invalid protocol: %q", d.Protocol())
	}

	if _, err := New("nonexistent"); err == nil {
		t.Fatal("expected unknown protocol to fail")
	}

	found := false
	for _, name := range Names() {
		found = found || name == "test-invert"
	}
	if !found {
		t.Fatalf("registered decoder missing from %v", Names())
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	Register("test-invert", func() Decoder { return nil })
}
