package ingest

import (
	"io"
	"sync"
	"testing"
	"time"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, w, err := r.Register("test-stream", FormatMPEGPS)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if stream.Key != "test-stream" {
		t.Fatalf("got key %q, want %q", stream.Key, "test-stream")
	}
	if stream.Format != FormatMPEGPS {
		t.Fatalf("got format %d, want %d", stream.Format, FormatMPEGPS)
	}
	if w == nil {
		t.Fatal("writer is nil")
	}

	got, ok := r.Get("test-stream")
	if !ok {
		t.Fatal("Get returned false for registered stream")
	}
	if got != stream {
		t.Fatal("Get returned different stream pointer")
	}
}

func TestRegistryDuplicateKeyRejected(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	if _, _, err := r.Register("live", FormatMPEGPS); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, _, err := r.Register("live", FormatMPEGPS); err == nil {
		t.Fatal("second Register on live key succeeded")
	}

	// After the first publisher leaves, the key is reusable.
	r.Unregister("live")
	if _, _, err := r.Register("live", FormatMPEGPS); err != nil {
		t.Fatalf("Register after Unregister: %v", err)
	}
}

func TestRegistryGetMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("Get returned true for missing stream")
	}
}

func TestRegistryUnregisterMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	// Should not panic.
	r.Unregister("nonexistent")
}

func TestRegistryUnregisterClosesPipe(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, _, err := r.Register("stream1", FormatMPEGPS)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Unregister("stream1")

	// Reading from the input side should return EOF after pipe is closed.
	buf := make([]byte, 1)
	if _, err := stream.input.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF after Unregister, got %v", err)
	}

	select {
	case <-stream.Done():
	default:
		t.Fatal("Done not signaled after Unregister")
	}
}

func TestRegistryOnStreamCallback(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calledKey string
	var calledFormat InputFormat

	done := make(chan struct{})
	r := NewRegistry(func(key string, _ io.Reader, format InputFormat) {
		mu.Lock()
		calledKey = key
		calledFormat = format
		mu.Unlock()
		close(done)
	})

	if _, _, err := r.Register("cb-stream", FormatMPEGPS); err != nil {
		t.Fatalf("Register: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onStream callback not called within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if calledKey != "cb-stream" {
		t.Fatalf("callback got key %q, want %q", calledKey, "cb-stream")
	}
	if calledFormat != FormatMPEGPS {
		t.Fatalf("callback got format %d, want %d", calledFormat, FormatMPEGPS)
	}
}

func TestStreamRecordRead(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, _, err := r.Register("s1", FormatMPEGPS)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	stream.RecordRead(100)
	stream.RecordRead(200)

	stats := stream.Stats()
	if stats.BytesReceived != 300 {
		t.Fatalf("BytesReceived = %d, want 300", stats.BytesReceived)
	}
	if stats.ReadCount != 2 {
		t.Fatalf("ReadCount = %d, want 2", stats.ReadCount)
	}
}

func TestStreamSetRemoteAddr(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, _, err := r.Register("s1", FormatMPEGPS)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	stream.SetRemoteAddr("192.168.1.1:5000")

	if got := stream.Stats().RemoteAddr; got != "192.168.1.1:5000" {
		t.Fatalf("RemoteAddr = %q", got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "stream-" + string(rune('A'+n%26))
			if _, _, err := r.Register(key, FormatMPEGPS); err != nil {
				return // lost the race to a duplicate key
			}
			r.Get(key)
			r.Unregister(key)
		}(i)
	}

	wg.Wait()
}
