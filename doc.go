/*
SCOPEDECODE decodes protocol traffic and measures signal integrity in captured
instrument waveforms. Captures come from a synthetic generator, an rtl_tcp
server or a raw IQ recording and are handed from the acquisition goroutine to
the decoding loop through a bounded queue.

Command-line Flags:

	-source=gen

Selects the acquisition source: gen, rtltcp or file. The generator
synthesizes traffic for the protocol named by -protocol and decodes it with the
matching decoder. The rtltcp and file sources demodulate 8-bit IQ into a
magnitude channel, low-pass filter it and measure rise time, fall time and
overshoot.

	-protocol=swd

Protocol to synthesize and decode: autoneg, dphy, hyperram, parallel, sdcmd or
swd. The dphy pipeline stacks the escape mode decoder on the line state
decoder.

	-count=0

Captures to synthesize, 0 for infinite.

	-seed=1

Seeds the random payloads of the generator.

	-samplefile=""

Raw IQ recording read by -source=file. The format is interleaved in-phase and
quadrature samples, each an unsigned byte, as delivered by rtl_tcp.

	-blocksize=65536

IQ samples per capture for the rtltcp and file sources.

	-center=100000000 -rate=2400000

Center frequency and sample rate for the rtl_tcp server. The rtltcp specific
-centerfreq and -samplerate flags take precedence.

	-cutoff=100000

Cutoff of the low-pass filter applied to the magnitude channel, in Hz.

	-depth=4

Capture sets queued between acquisition and decoding. Acquisition blocks while
the queue is full.

	-accel=false

Spreads filter and measurement kernels over all CPUs.

	-duration=0

Sets time to receive for, 0 for infinite. Exiting after an expired duration
logs the total runtime.

	-single=false

Provides one shot execution. The receiver exits after the first capture
producing output that passes the filters.

	-filter=""

Displays only packets whose headers match a comma-separated list of
Name=Value pairs, ex. -filter=Ack=OK,Op=Read. Values of the same header are
alternatives.

	-unique=""

Suppresses packets identical to the previous one with the same value of the
named header.

	-format="plain"

Sets the output format: plain, csv, json or xml. Plain text is formatted
using the following format string:

	{Time:%s Seq:%d Offset:%d Length:%d %s:{%s}}

Offsets and lengths are femtoseconds on the capture's timeline. CSV output
starts with a header row. For json and xml output each line is an element,
there is no root node.

	-loglevel=info

Sets the level of diagnostics written to stderr: debug, info, warn or error.

	-version=false

Displays build tag, build date and commit hash.

Every flag may also be set by an environment variable named SCOPEDECODE_
followed by the flag name in upper case, ex. SCOPEDECODE_FORMAT=json. Flags
given on the command line take precedence.
*/
package main
