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

package acquire

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/bemasher/scopedecode/waveform"
)

var timeNow = time.Now

// File replays a raw interleaved 8-bit IQ recording, one block per capture.
// A short final block is delivered as is.
type File struct {
	r          io.Reader
	sampleRate uint32
	lut        MagLUT
	block      []byte
}

func NewFile(r io.Reader, sampleRate uint32, blockSize int) (*File, error) {
	if sampleRate == 0 || blockSize <= 0 {
		return nil, errors.Errorf("acquire: invalid sample rate %d or block size %d", sampleRate, blockSize)
	}
	return &File{
		r:          r,
		sampleRate: sampleRate,
		lut:        NewMagLUT(),
		block:      make([]byte, blockSize<<1),
	}, nil
}

func (f *File) Acquire(ctx context.Context) (map[string]waveform.Waveform, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := io.ReadFull(f.r, f.block)
	switch {
	case err == io.EOF:
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		if n &^= 1; n == 0 {
			return nil, io.EOF
		}
	case err != nil:
		return nil, errors.Wrap(err, "acquire: read recording")
	}

	return iqCapture(f.lut, f.block[:n], f.sampleRate), nil
}
