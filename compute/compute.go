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

// Package compute runs data parallel kernels for filters and measurements.
// Every backend must produce the same result as Scalar; kernels only write to
// the output range they are handed.
package compute

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Backend executes kernel over [0, n). Run blocks until every range is done.
type Backend interface {
	Name() string
	Run(n int, kernel func(lo, hi int)) error
}

// Scalar runs the kernel inline on the calling goroutine.
type Scalar struct{}

func (Scalar) Name() string { return "scalar" }

func (Scalar) Run(n int, kernel func(lo, hi int)) error {
	if n > 0 {
		kernel(0, n)
	}
	return nil
}

// MinChunk is the smallest range handed to a worker.
const MinChunk = 4096

// Parallel splits the range across Workers goroutines.
type Parallel struct {
	Workers int
}

func (p Parallel) Name() string { return fmt.Sprintf("parallel(%d)", p.workers()) }

func (p Parallel) workers() int {
	if p.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return p.Workers
}

func (p Parallel) Run(n int, kernel func(lo, hi int)) error {
	if n <= 0 {
		return nil
	}

	chunk := (n + p.workers() - 1) / p.workers()
	if chunk < MinChunk {
		chunk = MinChunk
	}

	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > n {
			hi = n
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("compute: kernel panicked on [%d, %d): %v", lo, hi, r)
				}
			}()
			kernel(lo, hi)
			return nil
		})
	}
	return g.Wait()
}

// Select picks the backend once at startup. The parallel backend is only used
// when requested and more than one CPU is available.
func Select(accel bool) Backend {
	var b Backend = Scalar{}
	if accel && runtime.GOMAXPROCS(0) > 1 {
		b = Parallel{}
	}
	logrus.WithField("backend", b.Name()).Debug("compute backend selected")
	return b
}
