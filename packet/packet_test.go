package packet

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestBuilder(t *testing.T) {
	b := NewBuilder(100)
	b.Header("Op", "Read").Headerf("Addr", "%02X", 0x0C).Append(1, 2).Color(DataRead)
	p := b.Finish(250)

	want := &Packet{
		Offset:  100,
		Len:     150,
		Headers: map[string]string{"Op": "Read", "Addr": "0C"},
		Data:    []byte{1, 2},
		Color:   DataRead,
	}
	if !cmp.Equal(p, want) {
		t.Fatalf("invalid packet:\n%s", cmp.Diff(want, p))
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected reuse of a finished builder to panic")
		}
	}()
	b.Header("Op", "Write")
}

// pairs merges each packet with Type=Command with a following Type=Reply.
type pairs struct {
	List
}

func (p *pairs) HeaderNames() []string { return []string{"Type", "Code"} }

func (p *pairs) CanMerge(group, rest []*Packet) bool {
	return len(group) == 1 && group[0].Header("Type") == "Command" && rest[0].Header("Type") == "Reply"
}

func (p *pairs) MergedHeader(group []*Packet) *Packet {
	m := Span(group)
	m.Headers["Type"] = "Command+Reply"
	return m
}

func pkt(offset, length int64, typ, code string) *Packet {
	return NewBuilder(offset).Header("Type", typ).Header("Code", code).Finish(offset + length)
}

func TestRows(t *testing.T) {
	var p pairs
	p.Push(pkt(0, 10, "Command", "CMD0"))
	p.Push(pkt(20, 10, "Command", "CMD8"))
	p.Push(pkt(30, 5, "Reply", "CMD8"))
	p.Push(pkt(40, 5, "Reply", "CMD8"))

	rows := Rows(&p)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Children != nil || rows[0].Header("Code") != "CMD0" {
		t.Fatalf("invalid first row: %+v", rows[0])
	}
	if got := rows[1]; got.Header("Type") != "Command+Reply" || got.Offset != 20 || got.Len != 15 || len(got.Children) != 2 {
		t.Fatalf("invalid merged row: %+v", got)
	}
	if rows[2].Header("Type") != "Reply" {
		t.Fatalf("invalid last row: %+v", rows[2])
	}

	// Merging must not touch the packets themselves.
	if p.Packets()[1].Header("Type") != "Command" || p.Packets()[1].Len != 10 {
		t.Fatalf("packet list mutated: %+v", p.Packets()[1])
	}
}

func TestListNeverMerges(t *testing.T) {
	var list List
	list.Push(pkt(0, 1, "A", ""))
	list.Push(pkt(1, 1, "A", ""))
	if list.CanMerge(list.Packets()[:1], list.Packets()[1:]) {
		t.Fatal("default list must not merge")
	}
	list.Reset()
	if len(list.Packets()) != 0 {
		t.Fatal("expected reset to discard packets")
	}
}

func TestLogPacket(t *testing.T) {
	row := Row{Packet: NewBuilder(5).Header("Code", "CMD17").Append(0xDE, 0xAD).Finish(25)}
	lp := NewLogPacket(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC), 7, "sdcmd", []string{"Type", "Code"}, row)

	want := []string{"2020-01-02T03:04:05Z", "7", "sdcmd", "5", "20", "", "CMD17", "dead"}
	if got := lp.Record(); !cmp.Equal(got, want) {
		t.Fatalf("invalid record:\n%s", cmp.Diff(want, got))
	}
	if s := lp.String(); !strings.Contains(s, "sdcmd:{Code:CMD17 Data:dead}") {
		t.Fatalf("invalid string: %s", s)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(lp); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := xml.NewEncoder(&buf).Encode(lp); err != nil {
		t.Fatal(err)
	}
}

func TestHeaderFilter(t *testing.T) {
	hf := HeaderFilter{}
	if err := hf.Set("Code=CMD17,Code=CMD18"); err != nil {
		t.Fatal(err)
	}
	if err := hf.Set("bogus"); err == nil {
		t.Fatal("expected malformed filter to fail")
	}

	var fc FilterChain
	fc.Add(hf)

	names := []string{"Code"}
	for _, tc := range []struct {
		code string
		want bool
	}{
		{"CMD17", true},
		{"CMD18", true},
		{"CMD0", false},
	} {
		row := Row{Packet: NewBuilder(0).Header("Code", tc.code).Finish(1)}
		if got := fc.Match(NewLogPacket(time.Time{}, 0, "sdcmd", names, row)); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestUniqueFilter(t *testing.T) {
	uf := NewUniqueFilter("Register")
	names := []string{"Register", "Data"}
	mk := func(reg, data string) LogPacket {
		row := Row{Packet: NewBuilder(0).Header("Register", reg).Header("Data", data).Finish(1)}
		return NewLogPacket(time.Time{}, 0, "swd", names, row)
	}

	for i, tc := range []struct {
		lp   LogPacket
		want bool
	}{
		{mk("DP.IDCODE", "2BA01477"), true},
		{mk("DP.IDCODE", "2BA01477"), false},
		{mk("DP.CTRL/STAT", "F0000000"), true},
		{mk("DP.IDCODE", "00000000"), true},
	} {
		if got := uf.Filter(tc.lp); got != tc.want {
			t.Errorf("%d: got %v, want %v", i, got, tc.want)
		}
	}
}
