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

// Package csv writes decoded packets as comma separated records.
package csv

import (
	"encoding/csv"
	"io"

	"golang.org/x/xerrors"
)

// Produces a list of fields making up a record.
type Recorder interface {
	Record() []string
}

// An Encoder writes CSV records to an output stream.
type Encoder struct {
	w *csv.Writer

	header []string
}

// NewEncoder returns a new encoder that writes to w. A non-nil header is
// written once, before the first record.
func NewEncoder(w io.Writer, header ...string) *Encoder {
	return &Encoder{w: csv.NewWriter(w), header: header}
}

// Encode writes a CSV record representing v to the stream followed by a
// newline character. Value given must implement the Recorder interface.
func (enc *Encoder) Encode(v interface{}) (err error) {
	defer func() {
		if r, _ := recover().(error); r != nil {
			err = xerrors.Errorf("recovered: %w", r)
		}
	}()

	if enc.header != nil {
		if err := enc.w.Write(enc.header); err != nil {
			return xerrors.Errorf("csv: header: %w", err)
		}
		enc.header = nil
	}

	if err := enc.w.Write(v.(Recorder).Record()); err != nil {
		return xerrors.Errorf("csv: %w", err)
	}
	enc.w.Flush()

	return enc.w.Error()
}
