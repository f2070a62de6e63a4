// Package pipeline orchestrates the demux-to-distribution data flow for a
// single stream, stepping a Program Stream demux session over the ingest
// byte stream and delivering its elementary packets to the Relay.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/linky00/psrelay/mpegps"
	"github.com/linky00/psrelay/source"
)

// Snapshot is a point-in-time view of pipeline health, suitable for JSON
// serialization.
type Snapshot struct {
	StreamKey string         `json:"streamKey"`
	UptimeMs  int64          `json:"uptimeMs"`
	Steps     int64          `json:"steps"`
	Tracks    []TrackSummary `json:"tracks,omitempty"`
}

// TrackSummary describes one demuxed track for the snapshot.
type TrackSummary struct {
	ID       int    `json:"id"`
	Codec    string `json:"codec"`
	Category string `json:"category"`
}

// Pipeline bridges a single stream's demux session and its relay. The
// session delivers packets to the relay directly; the pipeline owns the
// step loop, lifecycle, and telemetry.
type Pipeline struct {
	log       *slog.Logger
	streamKey string
	input     io.Reader
	out       mpegps.Output
	opts      []func(*mpegps.Demuxer)
	startTime time.Time

	steps  atomic.Int64
	tracks atomic.Value // []TrackSummary
}

// New creates a Pipeline that demuxes input and delivers elementary
// packets to out. Demuxer options are forwarded to the session when Run
// opens it.
func New(streamKey string, input io.Reader, out mpegps.Output, opts ...func(*mpegps.Demuxer)) *Pipeline {
	return &Pipeline{
		log:       slog.With("component", "pipeline", "stream", streamKey),
		streamKey: streamKey,
		input:     input,
		out:       out,
		opts:      opts,
		startTime: time.Now(),
	}
}

// Snapshot returns current pipeline health metrics.
func (p *Pipeline) Snapshot() Snapshot {
	tracks, _ := p.tracks.Load().([]TrackSummary)
	return Snapshot{
		StreamKey: p.streamKey,
		UptimeMs:  time.Since(p.startTime).Milliseconds(),
		Steps:     p.steps.Load(),
		Tracks:    tracks,
	}
}

// Run opens the demux session and steps it until the input ends or the
// context is cancelled. The open-time probe blocks until the publisher has
// sent enough bytes to judge the container. A clean end of input returns
// nil; probe rejection and mid-stream errors are returned as-is.
func (p *Pipeline) Run(ctx context.Context) error {
	src := source.NewReader(p.input)
	d, err := mpegps.NewDemuxer(src, p.out, p.opts...)
	if err != nil {
		if errors.Is(err, mpegps.ErrNotProgramStream) {
			p.log.Warn("input rejected, not a program stream")
		}
		return err
	}
	defer d.Close()

	p.log.Info("demuxing")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := d.Step(); err != nil {
			if errors.Is(err, io.EOF) {
				p.log.Info("input ended", "steps", p.steps.Load())
				return nil
			}
			if ctx.Err() != nil {
				// Cancellation tears the input down under the session;
				// the read error is not a stream fault.
				return nil
			}
			p.log.Warn("demux error", "error", err)
			return err
		}
		if n := p.steps.Add(1); n%256 == 0 {
			p.publishTracks(d)
		}
	}
}

// publishTracks refreshes the track summary exposed via Snapshot. Called
// from the step loop only; the demux session is not touched concurrently.
func (p *Pipeline) publishTracks(d *mpegps.Demuxer) {
	infos := d.Tracks()
	summary := make([]TrackSummary, 0, len(infos))
	for _, ti := range infos {
		if ti.Format.Codec == "" {
			continue
		}
		summary = append(summary, TrackSummary{
			ID:       ti.Format.ID,
			Codec:    ti.Format.Codec,
			Category: ti.Format.Category.String(),
		})
	}
	p.tracks.Store(summary)
}
