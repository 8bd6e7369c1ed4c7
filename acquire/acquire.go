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

// Package acquire moves capture sets from an acquisition source to the
// processing side. A source fills one capture set at a time; Run numbers the
// sets and hands them over through a bounded single-producer single-consumer
// queue, blocking the source while the consumer is behind.
package acquire

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bemasher/scopedecode/waveform"
)

// ErrClosed is returned by Next once the queue is closed and empty.
var ErrClosed = errors.New("acquire: queue closed")

// CaptureSet is every channel acquired for one trigger.
type CaptureSet struct {
	Seq       uint64
	ID        uuid.UUID
	Time      time.Time
	Waveforms map[string]waveform.Waveform
}

// Queue hands capture sets from one producer to one consumer.
type Queue struct {
	ch chan *CaptureSet
}

// NewQueue returns a queue holding at most depth pending sets.
func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{ch: make(chan *CaptureSet, depth)}
}

// Push blocks until set is queued or ctx is done.
func (q *Queue) Push(ctx context.Context, set *CaptureSet) error {
	select {
	case q.ch <- set:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next blocks until a set is available, the queue is closed or ctx is done.
func (q *Queue) Next(ctx context.Context) (*CaptureSet, error) {
	select {
	case set, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		return set, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain returns every set queued right now without blocking.
func (q *Queue) Drain() (sets []*CaptureSet) {
	for {
		select {
		case set, ok := <-q.ch:
			if !ok {
				return sets
			}
			sets = append(sets, set)
		default:
			return sets
		}
	}
}

// Len returns the number of pending sets.
func (q *Queue) Len() int { return len(q.ch) }

// Close is called by the producer once no more sets will be pushed.
func (q *Queue) Close() { close(q.ch) }

// Source acquires one capture set per call. It returns io.EOF when exhausted.
type Source interface {
	Acquire(ctx context.Context) (map[string]waveform.Waveform, error)
}

// Run acquires from src until ctx is done, the source is exhausted or it
// fails, then closes q. The first set is numbered 1.
func Run(ctx context.Context, src Source, q *Queue, log *logrus.Entry) error {
	defer q.Close()

	var seq uint64
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		ws, err := src.Acquire(ctx)
		switch {
		case err == io.EOF:
			log.WithField("captures", seq).Info("source exhausted")
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return errors.Wrapf(err, "acquire: capture %d", seq+1)
		}

		seq++
		set := &CaptureSet{
			Seq:       seq,
			ID:        uuid.New(),
			Time:      time.Now(),
			Waveforms: ws,
		}
		log.WithFields(logrus.Fields{"seq": set.Seq, "id": set.ID, "channels": len(ws)}).Debug("captured")

		if err := q.Push(ctx, set); err != nil {
			return nil
		}
	}
}

// anchor returns a timebase of timescale fs per tick starting at t.
func anchor(t time.Time, timescale int64) waveform.Timebase {
	return waveform.Timebase{
		Timescale:      timescale,
		StartTimestamp: t.Unix(),
		StartFraction:  int64(t.Nanosecond()) * waveform.NS,
	}
}
