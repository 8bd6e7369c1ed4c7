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
	"flag"
	"io"

	"github.com/bemasher/rtltcp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bemasher/scopedecode/waveform"
)

// MagChannel names the magnitude channel produced by IQ sources.
const MagChannel = "MAG"

// RTLTCP acquires blocks of IQ samples from an rtl_tcp server and hands them
// over as a single analog magnitude channel. The embedded SDR registers the
// rtltcp command line flags, which take precedence over the fields below.
type RTLTCP struct {
	rtltcp.SDR

	CenterFreq uint32
	SampleRate uint32
	BlockSize  int // IQ sample pairs per capture

	lut   MagLUT
	block []byte
}

func NewRTLTCP(centerFreq, sampleRate uint32, blockSize int) *RTLTCP {
	return &RTLTCP{
		CenterFreq: centerFreq,
		SampleRate: sampleRate,
		BlockSize:  blockSize,
		lut:        NewMagLUT(),
	}
}

// Open connects to the server named by the -server flag and tunes it.
func (src *RTLTCP) Open(log *logrus.Entry) (err error) {
	gainFlagSet := false
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "centerfreq":
			src.CenterFreq = uint32(src.Flags.CenterFreq)
		case "samplerate":
			src.SampleRate = uint32(src.Flags.SampleRate)
		case "gainbyindex", "tunergainmode", "tunergain", "agcmode":
			gainFlagSet = true
		}
	})

	if src.SampleRate == 0 || src.BlockSize <= 0 {
		return errors.Errorf("acquire: invalid sample rate %d or block size %d", src.SampleRate, src.BlockSize)
	}
	src.block = make([]byte, src.BlockSize<<1)

	if err := src.Connect(nil); err != nil {
		return errors.Wrap(err, "acquire: connect")
	}
	defer func() {
		if err != nil {
			src.Close()
		}
	}()

	// Tell the user how many gain settings were reported by rtl_tcp.
	log.WithFields(logrus.Fields{
		"server": src.Flags.ServerAddr,
		"tuner":  src.Info.Tuner,
		"gains":  src.Info.GainCount,
	}).Info("connected to rtl_tcp")

	if err := src.SetCenterFreq(src.CenterFreq); err != nil {
		return errors.Wrap(err, "acquire: set center frequency")
	}
	if err := src.SetSampleRate(src.SampleRate); err != nil {
		return errors.Wrap(err, "acquire: set sample rate")
	}
	if !gainFlagSet {
		if err := src.SetGainMode(true); err != nil {
			return errors.Wrap(err, "acquire: set gain mode")
		}
	}
	if err := src.HandleFlags(); err != nil {
		return errors.Wrap(err, "acquire: apply rtltcp flags")
	}

	log.WithFields(logrus.Fields{
		"centerfreq": src.CenterFreq,
		"samplerate": src.SampleRate,
		"blocksize":  src.BlockSize,
	}).Debug("tuned")
	return nil
}

func (src *RTLTCP) Acquire(ctx context.Context) (map[string]waveform.Waveform, error) {
	if _, err := io.ReadFull(src, src.block); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "acquire: read samples")
	}
	return iqCapture(src.lut, src.block, src.SampleRate), nil
}

func iqCapture(lut MagLUT, block []byte, sampleRate uint32) map[string]waveform.Waveform {
	tb := anchor(timeNow(), waveform.S/int64(sampleRate))
	return map[string]waveform.Waveform{MagChannel: lut.Demodulate(block, tb)}
}
