package mpegps

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/linky00/psrelay/source"
)

func newTestDemuxer(data []byte) *Demuxer {
	return &Demuxer{
		src:     source.NewReader(bytes.NewReader(data)),
		scr:     clockInvalid,
		lastSCR: clockInvalid,
	}
}

func garbage(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xAA
	}
	return b
}

func TestResynchAlreadyAligned(t *testing.T) {
	t.Parallel()

	d := newTestDemuxer(concat(packMPEG2(0, 0), garbage(16)))
	st, err := d.resynch(false)
	if err != nil {
		t.Fatalf("resynch: %v", err)
	}
	if st != syncFound {
		t.Fatalf("status = %v, want syncFound", st)
	}
	if d.src.Tell() != 0 {
		t.Fatalf("aligned resynch consumed %d bytes", d.src.Tell())
	}
}

func TestResynchSkipsGarbage(t *testing.T) {
	t.Parallel()

	d := newTestDemuxer(concat(garbage(100), packMPEG2(0, 0)))
	st, err := d.resynch(false)
	if err != nil {
		t.Fatalf("resynch: %v", err)
	}
	if st != syncFound {
		t.Fatalf("status = %v, want syncFound", st)
	}
	if d.src.Tell() != 100 {
		t.Fatalf("Tell = %d, want 100", d.src.Tell())
	}
}

func TestResynchConsumesFullWindowOnMiss(t *testing.T) {
	t.Parallel()

	d := newTestDemuxer(concat(garbage(600), packMPEG2(0, 0), pesMPEG2(0xE0, 90000, -1, garbage(8))))

	st, err := d.resynch(false)
	if err != nil {
		t.Fatalf("resynch: %v", err)
	}
	if st != syncLost {
		t.Fatalf("status = %v, want syncLost", st)
	}
	if d.src.Tell() != resyncWindow {
		t.Fatalf("Tell = %d, want %d (whole window consumed)", d.src.Tell(), resyncWindow)
	}

	st, err = d.resynch(false)
	if err != nil {
		t.Fatalf("second resynch: %v", err)
	}
	if st != syncFound {
		t.Fatalf("second status = %v, want syncFound", st)
	}
	if d.src.Tell() != 600 {
		t.Fatalf("Tell = %d, want 600", d.src.Tell())
	}
}

func TestResynchRequirePack(t *testing.T) {
	t.Parallel()

	// A PES start code precedes the pack; with requirePack only the pack
	// qualifies.
	data := concat(garbage(10), pesMPEG2(0xE0, -1, -1, garbage(4)), packMPEG2(0, 0))
	d := newTestDemuxer(data)

	st, err := d.resynch(true)
	if err != nil {
		t.Fatalf("resynch: %v", err)
	}
	if st != syncFound {
		t.Fatalf("status = %v, want syncFound", st)
	}
	want := int64(10 + 6 + 3 + 4)
	if d.src.Tell() != want {
		t.Fatalf("Tell = %d, want %d (at pack header)", d.src.Tell(), want)
	}
}

func TestResynchEOF(t *testing.T) {
	t.Parallel()

	d := newTestDemuxer(garbage(3))
	if _, err := d.resynch(false); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestCDXAPadding(t *testing.T) {
	t.Parallel()

	block := concat(make([]byte, 24), cdxaSyncSignature, garbage(12))
	if got := cdxaPadding(block); got != 48 {
		t.Fatalf("cdxaPadding = %d, want 48", got)
	}

	// A 19-zero run does not qualify.
	bad := concat(make([]byte, 19), []byte{0x01}, make([]byte, 4), cdxaSyncSignature, garbage(12))
	if got := cdxaPadding(bad); got != 0 {
		t.Fatalf("cdxaPadding(bad run) = %d, want 0", got)
	}

	if got := cdxaPadding(garbage(40)); got != 0 {
		t.Fatalf("cdxaPadding(short) = %d, want 0", got)
	}
}

func TestReadPacketDeclaredSize(t *testing.T) {
	t.Parallel()

	pes := pesMPEG2(0xE0, 90000, -1, garbage(32))
	d := newTestDemuxer(concat(pes, packMPEG2(0, 0)))

	raw, err := d.readPacket()
	if err != nil {
		t.Fatalf("readPacket: %v", err)
	}
	if !bytes.Equal(raw, pes) {
		t.Fatalf("readPacket returned %d bytes, want %d", len(raw), len(pes))
	}
	if d.src.Tell() != int64(len(pes)) {
		t.Fatalf("Tell = %d, want %d", d.src.Tell(), len(pes))
	}
}

func TestReadPacketZeroLengthScansForward(t *testing.T) {
	t.Parallel()

	// Legacy packet declaring size 0: the payload runs to the next start
	// code, found by the growing-window scan.
	legacy := concat([]byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00}, garbage(40))
	d := newTestDemuxer(concat(legacy, packMPEG2(0, 0)))

	raw, err := d.readPacket()
	if err != nil {
		t.Fatalf("readPacket: %v", err)
	}
	if len(raw) != len(legacy) {
		t.Fatalf("readPacket returned %d bytes, want %d", len(raw), len(legacy))
	}
}

func TestReadPacketZeroLengthCrossesWindow(t *testing.T) {
	t.Parallel()

	// Next start code sits past the first 1KiB scan window.
	legacy := concat([]byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00}, garbage(1500))
	d := newTestDemuxer(concat(legacy, []byte{0x00, 0x00, 0x01, StreamIDEnd}))

	raw, err := d.readPacket()
	if err != nil {
		t.Fatalf("readPacket: %v", err)
	}
	if len(raw) != len(legacy) {
		t.Fatalf("readPacket returned %d bytes, want %d", len(raw), len(legacy))
	}
}

func TestReadPacketEOFMidPacket(t *testing.T) {
	t.Parallel()

	pes := pesMPEG2(0xE0, -1, -1, garbage(32))
	d := newTestDemuxer(pes[:20])
	if _, err := d.readPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}
