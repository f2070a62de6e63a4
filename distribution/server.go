package distribution

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/linky00/psrelay/certs"
)

// ALPN protocol tag for viewer connections.
const alpnProtocol = "psrelay/1"

// QUIC application error codes sent to clients via CloseWithError.
const (
	errCodeStreamNotFound quic.ApplicationErrorCode = 1
	errCodeBadRequest     quic.ApplicationErrorCode = 2
)

// maxKeyLine bounds the stream-key request line a viewer may send.
const maxKeyLine = 256

// idleTimeout closes viewer connections with no activity.
const idleTimeout = 30 * time.Second

// ServerConfig holds the configuration for the distribution Server.
type ServerConfig struct {
	Addr string
	Cert *certs.CertInfo
}

// Server is the QUIC distribution server. It owns the per-stream relays and
// serves viewer sessions: a viewer opens a bidirectional stream, sends the
// stream key on one line, and receives varint-framed records until it
// disconnects or the stream ends.
type Server struct {
	log    *slog.Logger
	config ServerConfig

	mu      sync.RWMutex
	streams map[string]*Relay
}

// NewServer creates a distribution Server with the given configuration.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("distribution: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("distribution: Addr is required")
	}
	return &Server{
		log:     slog.With("component", "quic-server"),
		config:  config,
		streams: make(map[string]*Relay),
	}, nil
}

// RegisterStream creates a Relay for the given stream key and returns it.
// If the stream already has a relay, the existing one is returned.
func (s *Server) RegisterStream(streamKey string) *Relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.streams[streamKey]; ok {
		return r
	}
	r := NewRelay()
	s.streams[streamKey] = r
	return r
}

// UnregisterStream removes the relay for a stream key.
func (s *Server) UnregisterStream(streamKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, streamKey)
}

// GetRelay returns the Relay for a stream key, or nil if not found.
func (s *Server) GetRelay(streamKey string) *Relay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[streamKey]
}

// StreamKeys returns the keys of every registered stream.
func (s *Server) StreamKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.streams))
	for k := range s.streams {
		keys = append(keys, k)
	}
	return keys
}

// Start launches the QUIC listener and blocks until the context is
// cancelled or a fatal listen error occurs.
func (s *Server) Start(ctx context.Context) error {
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{s.config.Cert.TLSCert},
		NextProtos:   []string{alpnProtocol},
	}

	ln, err := quic.ListenAddr(s.config.Addr, tlsConf, &quic.Config{
		MaxIdleTimeout: idleTimeout,
	})
	if err != nil {
		return fmt.Errorf("QUIC listen on %s: %w", s.config.Addr, err)
	}
	s.log.Info("listening", "addr", s.config.Addr,
		"cert_hash", s.config.Cert.FingerprintBase64())

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("QUIC accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn quic.Connection) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		s.log.Debug("accept stream", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	key, err := readKeyLine(stream)
	if err != nil {
		s.log.Warn("bad viewer request", "remote", conn.RemoteAddr(), "error", err)
		conn.CloseWithError(errCodeBadRequest, "bad request")
		return
	}

	relay := s.GetRelay(key)
	if relay == nil {
		s.log.Warn("stream not found", "stream_key", key, "remote", conn.RemoteAddr())
		conn.CloseWithError(errCodeStreamNotFound, "stream not found")
		return
	}

	viewerID := fmt.Sprintf("quic-%s-%s", key, conn.RemoteAddr())
	s.log.Info("viewer connected", "stream_key", key, "remote", conn.RemoteAddr())

	ch := relay.AddViewer(viewerID)
	defer relay.RemoveViewer(viewerID)

	for {
		select {
		case <-ctx.Done():
			conn.CloseWithError(0, "shutting down")
			return
		case frame := <-ch:
			if _, err := stream.Write(frame); err != nil {
				s.log.Debug("viewer write", "session", viewerID, "error", err)
				return
			}
		}
	}
}

// readKeyLine reads the newline-terminated stream key a viewer sends after
// opening its stream.
func readKeyLine(stream quic.Stream) (string, error) {
	r := bufio.NewReaderSize(stream, maxKeyLine)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read stream key: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", errors.New("empty stream key")
	}
	return key, nil
}
