// Command psrelay demuxes MPEG Program Streams. It serves live SRT
// publishes over a QUIC fan-out relay, and probes or dumps local files.
//
//	psrelay serve           # SRT ingest + QUIC distribution
//	psrelay probe <file>    # print tracks and duration
//	psrelay dump <file>     # print every delivered packet
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linky00/psrelay/certs"
	"github.com/linky00/psrelay/distribution"
	"github.com/linky00/psrelay/ingest"
	srtingest "github.com/linky00/psrelay/ingest/srt"
	"github.com/linky00/psrelay/media"
	"github.com/linky00/psrelay/mpegps"
	"github.com/linky00/psrelay/pipeline"
	"github.com/linky00/psrelay/source"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe()
	case "probe":
		err = withFile(runProbe)
	case "dump":
		err = withFile(runDump)
	default:
		fmt.Fprintf(os.Stderr, "usage: psrelay [serve | probe <file> | dump <file>]\n")
		os.Exit(2)
	}
	if err != nil {
		slog.Error("psrelay failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func withFile(fn func(f *os.File) error) error {
	if len(os.Args) < 3 {
		return errors.New("missing file argument")
	}
	f, err := os.Open(os.Args[2])
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}

func runServe() error {
	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(0)
	if err != nil {
		return fmt.Errorf("generate cert: %w", err)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	srtAddr := envOr("SRT_ADDR", ":6000")
	quicAddr := envOr("QUIC_ADDR", ":4443")

	distSrv, err := distribution.NewServer(distribution.ServerConfig{
		Addr: quicAddr,
		Cert: cert,
	})
	if err != nil {
		return fmt.Errorf("create distribution server: %w", err)
	}

	slog.Info("psrelay starting",
		"version", version,
		"srt", srtAddr,
		"quic", quicAddr,
		"cert_hash", cert.FingerprintBase64(),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Create the registry after the errgroup so the stream handler captures
	// the errgroup-derived context, ensuring streams shut down when any
	// component fails.
	registry := ingest.NewRegistry(func(key string, input io.Reader, _ ingest.InputFormat) {
		handleNewStream(ctx, distSrv, key, input)
	})

	srtSrv := srtingest.NewServer(srtAddr, registry, nil)

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	g.Go(func() error {
		return distSrv.Start(ctx)
	})

	return g.Wait()
}

func handleNewStream(ctx context.Context, distSrv *distribution.Server, key string, input io.Reader) {
	slog.Info("new stream from ingest", "key", key)

	relay := distSrv.RegisterStream(key)
	defer distSrv.UnregisterStream(key)

	p := pipeline.New(key, input, relay)
	if err := p.Run(ctx); err != nil {
		slog.Error("pipeline error", "stream", key, "error", err)
	}
	slog.Info("stream ended", "key", key)
}

// collector is the file-mode sink: it records track formats and counts
// delivered packets per track.
type collector struct {
	formats []mpegps.Format
	packets map[int]int64
	dump    bool
}

func newCollector(dump bool) *collector {
	return &collector{packets: make(map[int]int64), dump: dump}
}

func (c *collector) Add(f mpegps.Format) (mpegps.TrackHandle, error) {
	c.formats = append(c.formats, f)
	return f.ID, nil
}

func (c *collector) Send(h mpegps.TrackHandle, p *media.Packet) {
	id := h.(int)
	c.packets[id]++
	if c.dump {
		fmt.Printf("track=0x%x pts=%d dts=%d size=%d discontinuity=%v\n",
			id, p.PTS, p.DTS, len(p.Data), p.Discontinuity)
	}
}

func (c *collector) IsSelected(mpegps.TrackHandle) bool { return true }
func (c *collector) Del(mpegps.TrackHandle)             {}
func (c *collector) SetClock(int64)                     {}

func demuxFile(f *os.File, out mpegps.Output) (*mpegps.Demuxer, error) {
	src, err := source.NewFile(f)
	if err != nil {
		return nil, err
	}
	d, err := mpegps.NewDemuxer(src, out)
	if err != nil {
		return nil, err
	}
	for {
		if err := d.Step(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func runProbe(f *os.File) error {
	c := newCollector(false)
	d, err := demuxFile(f, c)
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Printf("%s\n", f.Name())
	if l := d.Length(); l > 0 {
		fmt.Printf("  duration: %s\n", (time.Duration(l) * time.Microsecond).Round(time.Millisecond))
	}
	for _, fm := range c.formats {
		fmt.Printf("  track 0x%x: %s (%s), %d packets\n",
			fm.ID, fm.Codec, fm.Category, c.packets[fm.ID])
	}
	return nil
}

func runDump(f *os.File) error {
	c := newCollector(true)
	d, err := demuxFile(f, c)
	if err != nil {
		return err
	}
	d.Close()
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
