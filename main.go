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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bemasher/scopedecode/acquire"
	"github.com/bemasher/scopedecode/compute"
	"github.com/bemasher/scopedecode/packet"
)

// Receiver ties an acquisition source to a decoding pipeline.
type Receiver struct {
	src acquire.Source
	p   *Pipeline
	fc  packet.FilterChain
	enc Encoder

	rtl    *acquire.RTLTCP
	closer io.Closer
}

func (rcvr *Receiver) NewReceiver() error {
	backend := compute.Select(*accel)

	var err error
	switch *source {
	case "gen":
		rcvr.src, err = acquire.NewGenerator(*protocol, *count, *seed)
		if err == nil {
			rcvr.p, err = NewProtocolPipeline(*protocol)
		}
	case "rtltcp":
		rcvr.rtl.CenterFreq = uint32(*centerFreq)
		rcvr.rtl.SampleRate = uint32(*sampleRate)
		rcvr.rtl.BlockSize = *blockSize
		if err = rcvr.rtl.Open(log); err == nil {
			rcvr.src, rcvr.closer = rcvr.rtl, rcvr.rtl
			rcvr.p, err = NewMeasurementPipeline(*cutoff, backend)
		}
	case "file":
		var f *os.File
		if f, err = os.Open(*sampleFilename); err != nil {
			return errors.Wrap(err, "open sample file")
		}
		rcvr.closer = f
		if rcvr.src, err = acquire.NewFile(f, uint32(*sampleRate), *blockSize); err == nil {
			rcvr.p, err = NewMeasurementPipeline(*cutoff, backend)
		}
	default:
		err = errors.Errorf("unknown source %q", *source)
	}
	if err != nil {
		return err
	}

	rcvr.fc = Filters()
	rcvr.enc = NewEncoder(os.Stdout, rcvr.p.Columns())

	log.WithFields(logrus.Fields{
		"source":   *source,
		"pipeline": rcvr.p.name,
		"backend":  backend.Name(),
		"format":   *format,
	}).Info("receiver ready")
	return nil
}

func (rcvr *Receiver) Close() {
	if rcvr.closer != nil {
		rcvr.closer.Close()
	}
}

func (rcvr *Receiver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	q := acquire.NewQueue(*depth)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return acquire.Run(ctx, rcvr.src, q, log.WithField("source", *source))
	})
	g.Go(func() error {
		defer cancel()
		for {
			set, err := q.Next(ctx)
			if err == acquire.ErrClosed || ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}

			found, err := rcvr.emit(set)
			if err != nil {
				return err
			}
			if found && *single {
				return nil
			}
		}
	})

	err := g.Wait()
	log.WithField("elapsed", time.Since(start)).Info("stopped")
	return err
}

// emit encodes every packet of set accepted by the filter chain.
func (rcvr *Receiver) emit(set *acquire.CaptureSet) (found bool, err error) {
	for _, lp := range rcvr.p.Process(set) {
		if !rcvr.fc.Match(lp) {
			continue
		}
		if err := rcvr.enc.Encode(lp); err != nil {
			return found, errors.Wrap(err, "encode packet")
		}
		found = true
	}
	return found, nil
}

var (
	buildTag   = "dev"     // v#.#.#
	buildDate  = "unknown" // date -u '+%Y-%m-%d'
	commitHash = "unknown" // git rev-parse HEAD
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000000"})

	rcvr := Receiver{rtl: acquire.NewRTLTCP(0, 0, 0)}
	rcvr.rtl.RegisterFlags()
	RegisterFlags()
	EnvOverride()
	flag.Parse()

	if *version {
		fmt.Println("Build Tag: ", buildTag)
		fmt.Println("Build Date:", buildDate)
		fmt.Println("Commit:    ", commitHash)
		os.Exit(0)
	}

	HandleFlags()

	if err := rcvr.NewReceiver(); err != nil {
		log.WithError(err).Fatal("receiver setup failed")
	}
	defer rcvr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *timeLimit != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeLimit)
		defer cancel()
	}

	if err := rcvr.Run(ctx); err != nil {
		log.WithError(err).Error("receiver failed")
		os.Exit(1)
	}
}
