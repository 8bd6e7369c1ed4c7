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

package packet

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const TimeFormat = "2006-01-02T15:04:05.000"

// Field is one header of a logged packet.
type Field struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// LogPacket is a packet stamped with its capture for output encoders.
type LogPacket struct {
	Time     time.Time
	Seq      uint64
	Protocol string
	Offset   int64
	Length   int64
	Color    string
	Fields   []Field
	Data     string `json:",omitempty" xml:",omitempty"`
	Merged   int    `json:",omitempty" xml:",omitempty"`
}

// NewLogPacket flattens row using the header column order of names.
func NewLogPacket(t time.Time, seq uint64, protocol string, names []string, row Row) LogPacket {
	lp := LogPacket{
		Time:     t,
		Seq:      seq,
		Protocol: protocol,
		Offset:   row.Offset,
		Length:   row.Len,
		Color:    row.Color.String(),
		Merged:   len(row.Children),
	}
	for _, name := range names {
		lp.Fields = append(lp.Fields, Field{name, row.Header(name)})
	}
	if len(row.Data) > 0 {
		lp.Data = hex.EncodeToString(row.Data)
	}
	return lp
}

// Field returns the named header value.
func (lp LogPacket) Field(name string) (string, bool) {
	for _, f := range lp.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func (lp LogPacket) String() string {
	var fields []string
	for _, f := range lp.Fields {
		if f.Value == "" {
			continue
		}
		fields = append(fields, f.Name+":"+f.Value)
	}
	if lp.Data != "" {
		fields = append(fields, "Data:"+lp.Data)
	}
	return fmt.Sprintf("{Time:%s Seq:%d Offset:%d Length:%d %s:{%s}}",
		lp.Time.Format(TimeFormat), lp.Seq, lp.Offset, lp.Length, lp.Protocol, strings.Join(fields, " "),
	)
}

func (lp LogPacket) Record() (r []string) {
	r = append(r, lp.Time.Format(time.RFC3339Nano))
	r = append(r, strconv.FormatUint(lp.Seq, 10))
	r = append(r, lp.Protocol)
	r = append(r, strconv.FormatInt(lp.Offset, 10))
	r = append(r, strconv.FormatInt(lp.Length, 10))
	for _, f := range lp.Fields {
		r = append(r, f.Value)
	}
	r = append(r, lp.Data)
	return r
}

// Filter accepts or rejects logged packets.
type Filter interface {
	Filter(LogPacket) bool
}

// FilterChain accepts a packet only if every filter does.
type FilterChain []Filter

func (fc *FilterChain) Add(filter Filter) {
	*fc = append(*fc, filter)
}

func (fc FilterChain) Match(lp LogPacket) bool {
	for _, filter := range fc {
		if !filter.Filter(lp) {
			return false
		}
	}
	return true
}

// HeaderFilter matches packets whose header equals one of a set of values.
// It implements flag.Value as a comma-separated list of Name=Value pairs.
type HeaderFilter map[string]map[string]bool

func (hf HeaderFilter) String() string {
	var pairs []string
	for name, values := range hf {
		for v := range values {
			pairs = append(pairs, name+"="+v)
		}
	}
	return strings.Join(pairs, ",")
}

func (hf HeaderFilter) Set(value string) error {
	for _, pair := range strings.Split(value, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return fmt.Errorf("invalid filter %q, expected Name=Value", pair)
		}
		if hf[kv[0]] == nil {
			hf[kv[0]] = map[string]bool{}
		}
		hf[kv[0]][kv[1]] = true
	}
	return nil
}

func (hf HeaderFilter) Filter(lp LogPacket) bool {
	for name, values := range hf {
		v, _ := lp.Field(name)
		if !values[v] {
			return false
		}
	}
	return true
}

// UniqueFilter suppresses a packet identical to the previous one with the
// same header value under Key.
type UniqueFilter struct {
	Key  string
	seen map[string]string
}

func NewUniqueFilter(key string) *UniqueFilter {
	return &UniqueFilter{Key: key, seen: map[string]string{}}
}

func (uf *UniqueFilter) Filter(lp LogPacket) bool {
	k, _ := lp.Field(uf.Key)
	digest := fmt.Sprint(lp.Fields, lp.Data)
	if uf.seen[k] == digest {
		return false
	}
	uf.seen[k] = digest
	return true
}
