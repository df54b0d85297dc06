package apecs

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ScanQuery asks the observing engine for the current scan number.
const ScanQuery = "APEX:OBSENGINE:scanNum?"

// DefaultObsEngineAddr is the observing engine's control port.
const DefaultObsEngineAddr = "10.0.2.171:33133"

// ScanNumberClient keeps the telescope's current scan number, which names
// acquisition files. Refresh requests are served by Run one at a time.
type ScanNumberClient struct {
	sock    UDPSocket
	addr    *net.UDPAddr
	timeout time.Duration

	requests chan struct{}
	scan     atomic.Int64
}

// NewScanNumberClient queries addr over sock, waiting up to timeout for
// each reply.
func NewScanNumberClient(sock UDPSocket, addr *net.UDPAddr, timeout time.Duration) *ScanNumberClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ScanNumberClient{
		sock:     sock,
		addr:     addr,
		timeout:  timeout,
		requests: make(chan struct{}, 1),
	}
}

// Refresh asks the worker for a new query. Requests made while one is
// already pending are merged.
func (c *ScanNumberClient) Refresh() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

// ScanNum returns the last scan number received, zero before the first.
func (c *ScanNumberClient) ScanNum() int {
	return int(c.scan.Load())
}

// Query asks for the scan number now and stores it.
func (c *ScanNumberClient) Query() (int, error) {
	reply, err := Request(c.sock, c.addr, ScanQuery, c.timeout)
	if err != nil {
		return c.ScanNum(), err
	}
	n, err := ParseScanReply(reply)
	if err != nil {
		return c.ScanNum(), err
	}
	c.scan.Store(int64(n))
	logf("scan number %d", n)
	return n, nil
}

// Run serves Refresh requests until ctx is cancelled.
func (c *ScanNumberClient) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.requests:
			if _, err := c.Query(); err != nil {
				logf("scan number query failed, keeping %d: %v", c.ScanNum(), err)
			}
		}
	}
}

// ParseScanReply extracts the number from "APEX:OBSENGINE:scanNum <n> ...".
func ParseScanReply(reply string) (int, error) {
	fields := strings.Fields(reply)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed scan number reply %q", reply)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("malformed scan number reply %q: %w", reply, err)
	}
	return n, nil
}
