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

// Package fir implements windowed-sinc FIR filtering and I/Q downconversion
// of uniformly sampled analog waveforms.
package fir

import (
	"fmt"
	"math"

	"github.com/bemasher/scopedecode/compute"
	"github.com/bemasher/scopedecode/decode"
	"github.com/bemasher/scopedecode/waveform"
	"gonum.org/v1/gonum/dsp/window"
	"golang.org/x/xerrors"
)

func init() {
	decode.Register("fir", func() decode.Decoder { return NewFIR() })
	decode.Register("downconvert", func() decode.Decoder { return NewDownconvert() })
}

// MaxTaps bounds the kernel length.
const MaxTaps = 4095

// DefaultAttenuation is the default stopband attenuation in dB.
const DefaultAttenuation = 60

type Type int

const (
	LowPass Type = iota
	HighPass
	BandPass
	Notch
)

func (t Type) String() string {
	switch t {
	case LowPass:
		return "lowpass"
	case HighPass:
		return "highpass"
	case BandPass:
		return "bandpass"
	case Notch:
		return "notch"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

type Window int

const (
	Blackman Window = iota
	Hamming
	Hann
	Rectangular
)

func (w Window) String() string {
	switch w {
	case Blackman:
		return "blackman"
	case Hamming:
		return "hamming"
	case Hann:
		return "hann"
	case Rectangular:
		return "rectangular"
	}
	return fmt.Sprintf("Window(%d)", int(w))
}

func (w Window) apply(seq []float64) []float64 {
	switch w {
	case Hamming:
		return window.Hamming(seq)
	case Hann:
		return window.Hann(seq)
	case Rectangular:
		return window.Rectangular(seq)
	}
	return window.Blackman(seq)
}

// Design describes a filter. Frequencies are in Hz. Low-pass and high-pass
// filters use Low only; band filters use both.
type Design struct {
	Type        Type
	Window      Window
	Attenuation float64
	Low, High   float64
}

// Taps estimates the kernel length for sample rate fs from the narrowest
// transition band: atten / (22 * df/fs), forced odd.
func (d Design) Taps(fs float64) (int, error) {
	nyquist := fs / 2
	edges := []float64{d.Low}
	if d.Type == BandPass || d.Type == Notch {
		if d.High <= d.Low {
			return 0, xerrors.Errorf("fir: band edges %g, %g Hz out of order", d.Low, d.High)
		}
		edges = append(edges, d.High)
	}

	df := nyquist
	for _, f := range edges {
		if f <= 0 || f >= nyquist {
			return 0, xerrors.Errorf("fir: frequency %g Hz outside (0, %g)", f, nyquist)
		}
		df = math.Min(df, math.Min(f, nyquist-f))
	}
	if len(edges) == 2 {
		df = math.Min(df, d.High-d.Low)
	}

	atten := d.Attenuation
	if atten <= 0 {
		atten = DefaultAttenuation
	}
	n := int(math.Ceil(atten / (22 * df / fs)))
	if n%2 == 0 {
		n++
	}
	if n > MaxTaps {
		return 0, xerrors.Errorf("fir: %d taps exceed limit of %d", n, MaxTaps)
	}
	return n, nil
}

// lowPass returns an n tap windowed-sinc low-pass kernel with unity DC gain.
func lowPass(n int, fc, fs float64, w Window) []float64 {
	h := make([]float64, n)
	m := float64(n-1) / 2
	x := 2 * fc / fs
	for i := range h {
		t := float64(i) - m
		if t == 0 {
			h[i] = x
			continue
		}
		h[i] = math.Sin(math.Pi*x*t) / (math.Pi * t)
	}
	h = w.apply(h)

	var sum float64
	for _, v := range h {
		sum += v
	}
	for i := range h {
		h[i] /= sum
	}
	return h
}

// invert turns a low-pass kernel into its complement.
func invert(h []float64) []float64 {
	for i := range h {
		h[i] = -h[i]
	}
	h[len(h)/2] += 1
	return h
}

// Coefficients returns the filter kernel for sample rate fs.
func (d Design) Coefficients(fs float64) ([]float64, error) {
	n, err := d.Taps(fs)
	if err != nil {
		return nil, err
	}

	switch d.Type {
	case LowPass:
		return lowPass(n, d.Low, fs, d.Window), nil
	case HighPass:
		return invert(lowPass(n, d.Low, fs, d.Window)), nil
	case BandPass, Notch:
		lo := lowPass(n, d.Low, fs, d.Window)
		h := lowPass(n, d.High, fs, d.Window)
		for i := range h {
			h[i] -= lo[i]
		}
		if d.Type == Notch {
			return invert(h), nil
		}
		return h, nil
	}
	return nil, xerrors.Errorf("fir: unknown filter type %d", int(d.Type))
}

// Apply convolves in with h. The output holds only fully overlapped samples,
// (len(h)-1)/2 fewer on each end, and its trigger phase is moved by that many
// ticks so it stays aligned with in.
func Apply(b compute.Backend, in *waveform.Uniform[float32], h []float64) (*waveform.Uniform[float32], error) {
	radius := (len(h) - 1) / 2
	n := in.Len() - 2*radius
	if n <= 0 {
		return nil, xerrors.Errorf("fir: %d samples too short for %d taps", in.Len(), len(h))
	}

	out := waveform.NewUniformLike[float32](in, n)
	out.TriggerPhase += int64(radius) * in.Timescale

	last := len(h) - 1
	err := b.Run(n, func(lo, hi int) {
		for k := lo; k < hi; k++ {
			var acc float64
			for j, c := range h {
				acc += c * float64(in.Samples[k+last-j])
			}
			out.Samples[k] = float32(acc)
		}
	})
	if err != nil {
		return nil, xerrors.Errorf("fir: %w", err)
	}
	return out, nil
}

// SampleRate returns the sample rate of w in Hz.
func SampleRate(w waveform.Waveform) float64 {
	ts := w.Timing().Timescale
	if ts <= 0 {
		return 0
	}
	return float64(waveform.S) / float64(ts)
}

type Option func(*FIR)

func WithType(t Type) Option { return func(f *FIR) { f.Design.Type = t } }

func WithWindow(w Window) Option { return func(f *FIR) { f.Design.Window = w } }

// WithCutoff sets the cutoff frequency, or the band edges for band filters.
func WithCutoff(low, high float64) Option {
	return func(f *FIR) { f.Design.Low, f.Design.High = low, high }
}

func WithAttenuation(db float64) Option { return func(f *FIR) { f.Design.Attenuation = db } }

func WithBackend(b compute.Backend) Option { return func(f *FIR) { f.Backend = b } }

// FIR is a filter node over a uniform analog input.
type FIR struct {
	decode.Base

	Design  Design
	Backend compute.Backend
}

func NewFIR(opts ...Option) *FIR {
	f := &FIR{
		Design:  Design{Attenuation: DefaultAttenuation},
		Backend: compute.Scalar{},
	}
	f.Init("fir")
	f.CreateInput("in")
	f.AddOutputStream(decode.Volts, "out", decode.Analog)

	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FIR) Protocol() string { return "FIR " + f.Design.Type.String() }

func (f *FIR) ValidateChannel(slot int, s *decode.Stream) bool {
	return slot == 0 && decode.IsAnalog(s)
}

func (f *FIR) Refresh() {
	in, ok := f.InputWaveform(0).(*waveform.Uniform[float32])
	if !ok || in.Len() == 0 {
		f.SetOutput(nil, 0)
		return
	}

	h, err := f.Design.Coefficients(SampleRate(in))
	if err != nil {
		f.AddError("%s", err)
		f.SetOutput(nil, 0)
		return
	}

	out, err := Apply(f.Backend, in, h)
	if err != nil {
		f.AddError("%s", err)
		f.SetOutput(nil, 0)
		return
	}
	f.SetOutput(out, 0)
}

// Downconvert mixes a uniform analog input with a local oscillator into
// in-phase and quadrature outputs.
type Downconvert struct {
	decode.Base

	LO float64 // Hz
}

func NewDownconvert() *Downconvert {
	d := &Downconvert{}
	d.Init("downconvert")
	d.CreateInput("in")
	d.AddOutputStream(decode.Volts, "I", decode.Analog)
	d.AddOutputStream(decode.Volts, "Q", decode.Analog)
	return d
}

func (d *Downconvert) Protocol() string { return "Downconvert" }

func (d *Downconvert) ValidateChannel(slot int, s *decode.Stream) bool {
	return slot == 0 && decode.IsAnalog(s)
}

func (d *Downconvert) Refresh() {
	in, ok := d.InputWaveform(0).(*waveform.Uniform[float32])
	if !ok || in.Len() == 0 {
		d.SetOutput(nil, 0)
		d.SetOutput(nil, 1)
		return
	}

	fs := SampleRate(in)
	if d.LO <= 0 || d.LO >= fs/2 {
		d.AddError("local oscillator %g Hz outside (0, %g)", d.LO, fs/2)
		d.SetOutput(nil, 0)
		d.SetOutput(nil, 1)
		return
	}

	i, q := Mix(in, d.LO)
	d.SetOutput(i, 0)
	d.SetOutput(q, 1)
}

// Mix returns in multiplied by cos and -sin of an lo Hz oscillator whose phase
// is zero at time zero of in's timeline.
func Mix(in *waveform.Uniform[float32], lo float64) (i, q *waveform.Uniform[float32]) {
	i = waveform.NewUniformLike[float32](in, in.Len())
	q = waveform.NewUniformLike[float32](in, in.Len())

	step := 2 * math.Pi * lo / SampleRate(in)
	phase0 := 2 * math.Pi * lo * float64(in.TriggerPhase) / float64(waveform.S)
	for k, v := range in.Samples {
		sin, cos := math.Sincos(phase0 + step*float64(k))
		i.Samples[k] = v * float32(cos)
		q.Samples[k] = -v * float32(sin)
	}
	return i, q
}
