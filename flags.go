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
	"encoding/json"
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bemasher/scopedecode/acquire"
	"github.com/bemasher/scopedecode/csv"
	"github.com/bemasher/scopedecode/packet"
)

var source = flag.String("source", "gen", "acquisition source: gen, rtltcp or file")
var protocol = flag.String("protocol", "swd", "protocol to synthesize and decode with -source=gen")

var sampleFilename = flag.String("samplefile", "", "raw interleaved 8-bit IQ recording for -source=file")
var blockSize = flag.Int("blocksize", 1<<16, "IQ samples per capture for rtltcp and file sources")
var centerFreq = flag.Uint("center", 100000000, "center frequency for -source=rtltcp, overridden by -centerfreq")
var sampleRate = flag.Uint("rate", 2400000, "IQ sample rate in Hz, overridden by -samplerate")
var cutoff = flag.Float64("cutoff", 100e3, "low-pass cutoff applied to the magnitude channel in Hz")

var count = flag.Int("count", 0, "captures to synthesize with -source=gen, 0 for infinite")
var seed = flag.Int64("seed", 1, "payload seed for -source=gen")
var depth = flag.Int("depth", 4, "capture sets queued between acquisition and decoding")
var accel = flag.Bool("accel", false, "spread filter and measurement kernels over all CPUs")

var timeLimit = flag.Duration("duration", 0, "time to run for, 0 for infinite, ex. 1h5m10s")
var single = flag.Bool("single", false, "one shot execution, exit after the first capture producing output")

var headerFilter = packet.HeaderFilter{}
var unique = flag.String("unique", "", "suppress packets identical to the previous one with the same value of this header")

var format = flag.String("format", "plain", "decoded packet output format: plain, csv, json, or xml")

var logLevel = flag.String("loglevel", "info", "log level: debug, info, warn or error")

var version = flag.Bool("version", false, "display build date and commit hash")

var log = logrus.WithField("source", "main")

func RegisterFlags() {
	flag.Var(headerFilter, "filter", "display only packets whose headers match a comma-separated list of Name=Value pairs")

	ownFlags := map[string]bool{
		"source":     true,
		"protocol":   true,
		"samplefile": true,
		"blocksize":  true,
		"center":     true,
		"rate":       true,
		"cutoff":     true,
		"count":      true,
		"seed":       true,
		"depth":      true,
		"accel":      true,
		"duration":   true,
		"single":     true,
		"filter":     true,
		"unique":     true,
		"format":     true,
		"loglevel":   true,
		"version":    true,
	}

	printDefaults := func(validFlags map[string]bool, inclusion bool) {
		flag.CommandLine.VisitAll(func(f *flag.Flag) {
			if validFlags[f.Name] != inclusion {
				return
			}

			format := "  -%s=%s: %s\n"
			fmt.Fprintf(os.Stderr, format, f.Name, f.Value, f.Usage)
		})
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		printDefaults(ownFlags, true)

		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "rtltcp specific:")
		printDefaults(ownFlags, false)
	}
}

// EnvOverride sets every flag named by a SCOPEDECODE_<FLAG> environment
// variable. Flags given on the command line are parsed afterwards and win.
func EnvOverride() {
	flag.VisitAll(func(f *flag.Flag) {
		envName := "SCOPEDECODE_" + strings.ToUpper(f.Name)
		flagValue := os.Getenv(envName)
		if flagValue == "" {
			return
		}

		fields := logrus.Fields{"env": envName, "flag": f.Name, "value": flagValue}
		if err := flag.Set(f.Name, flagValue); err != nil {
			log.WithFields(fields).WithError(err).Warn("environment variable failed to override flag")
			return
		}
		log.WithFields(fields).Info("environment variable overrides flag")
	})
}

func HandleFlags() {
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	logrus.SetLevel(level)

	*format = strings.ToLower(*format)
	switch *format {
	case "plain", "csv", "json", "xml":
	default:
		log.WithField("format", *format).Fatal("unknown output format")
	}

	*source = strings.ToLower(*source)
	if *source == "gen" && !contains(acquire.Protocols(), *protocol) {
		log.WithField("protocol", *protocol).Fatalf("unknown protocol, expected one of %s", strings.Join(acquire.Protocols(), ", "))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Filters returns the chain selected by -filter and -unique.
func Filters() (fc packet.FilterChain) {
	if len(headerFilter) > 0 {
		fc.Add(headerFilter)
	}
	if *unique != "" {
		fc.Add(packet.NewUniqueFilter(*unique))
	}
	return fc
}

// NewEncoder returns the -format encoder writing to w. CSV output starts with
// a header row naming columns.
func NewEncoder(w io.Writer, columns []string) Encoder {
	switch *format {
	case "csv":
		header := append([]string{"Time", "Seq", "Protocol", "Offset", "Length"}, columns...)
		return csv.NewEncoder(w, append(header, "Data")...)
	case "json":
		return json.NewEncoder(w)
	case "xml":
		return xmlEncoder{xml.NewEncoder(w), w}
	}
	return PlainEncoder{w}
}

// JSON, XML and CSV all implement this interface so we can simplify log
// output formatting.
type Encoder interface {
	Encode(interface{}) error
}

type PlainEncoder struct {
	w io.Writer
}

func (pe PlainEncoder) Encode(msg interface{}) (err error) {
	_, err = fmt.Fprintln(pe.w, msg)
	return
}

// xmlEncoder writes one element per line.
type xmlEncoder struct {
	*xml.Encoder
	w io.Writer
}

func (xe xmlEncoder) Encode(msg interface{}) error {
	if err := xe.Encoder.Encode(msg); err != nil {
		return err
	}
	_, err := fmt.Fprintln(xe.w)
	return err
}
