package stream

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/zeus2/zeus2be/internal/monitoring"
)

// DefaultListenAddr is where the telescope data system connects.
const DefaultListenAddr = ":25144"

// Server accepts data consumer connections and streams one acquisition to
// each.
type Server struct {
	streamer *Streamer
}

// NewServer serves connections with streamer.
func NewServer(streamer *Streamer) *Server {
	return &Server{streamer: streamer}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln
// and waits for open streams to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logf("data server listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logf("accept: %v", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	monitoring.StreamConnections.Inc()
	defer monitoring.StreamConnections.Dec()

	connected := s.streamer.clock.Now()
	logf("data consumer connected from %s", conn.RemoteAddr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// A read only returns when the consumer hangs up or ctx ends.
		var b [1]byte
		for {
			if _, err := conn.Read(b[:]); err != nil {
				cancel()
				return
			}
		}
	}()

	n, err := s.streamer.Stream(ctx, conn, connected)
	if err != nil && !errors.Is(err, context.Canceled) {
		logf("stream to %s ended after %d frames: %v", conn.RemoteAddr(), n, err)
		return
	}
	logf("stream to %s finished, %d frames", conn.RemoteAddr(), n)
}
