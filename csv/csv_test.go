package csv

import (
	"bytes"
	"runtime"
	"testing"
	"time"

	"golang.org/x/xerrors"

	"github.com/bemasher/scopedecode/packet"
)

func TestRecorderNil(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := NewEncoder(buf)

	if err := enc.Encode(nil); err == nil {
		t.Fatalf("%+v\n", err)
	}
}

type Msg struct{}

func (m Msg) Record() []string {
	return []string{"a", "b,c"}
}

func TestRecorder(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := NewEncoder(buf)

	if err := enc.Encode(Msg{}); err != nil {
		t.Fatalf("%+v\n", err)
	}
	if got, want := buf.String(), "a,\"b,c\"\n"; got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
}

type NonRecorder struct{}

func TestNonRecorder(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := NewEncoder(buf)

	err := enc.Encode(NonRecorder{})

	var runtimeErr runtime.Error
	if !xerrors.As(err, &runtimeErr) {
		t.Fatalf("%+v\n", runtimeErr)
	}
}

func TestHeaderOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := NewEncoder(buf, "x", "y")

	for i := 0; i < 2; i++ {
		if err := enc.Encode(Msg{}); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := buf.String(), "x,y\na,\"b,c\"\na,\"b,c\"\n"; got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
}

func TestLogPacket(t *testing.T) {
	lp := packet.LogPacket{
		Time:     time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC),
		Seq:      7,
		Protocol: "swd",
		Offset:   100,
		Length:   20,
		Fields:   []packet.Field{{Name: "Op", Value: "Read"}, {Name: "Ack", Value: "OK"}},
		Data:     "beef",
	}

	buf := &bytes.Buffer{}
	if err := NewEncoder(buf).Encode(lp); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "2020-01-02T03:04:05Z,7,swd,100,20,Read,OK,beef\n"; got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
}
