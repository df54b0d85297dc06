package stream

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/zeus2/zeus2be/internal/apecs"
)

// IntegrationTimeQuery asks the dispatcher for the current integration time.
const IntegrationTimeQuery = "APEX:ZEUS2BE:IntegrationTime?"

// estimateMargin pads integration times estimated from the frame count.
const estimateMargin = 1.25

// IntegrationTimeFunc returns the expected duration of the acquisition.
type IntegrationTimeFunc func() (time.Duration, error)

// QueryIntegrationTime sends IntegrationTimeQuery to addr over sock. The
// reply carries the time in units of 100 ms.
func QueryIntegrationTime(sock apecs.UDPSocket, addr *net.UDPAddr, timeout time.Duration) (time.Duration, error) {
	reply, err := apecs.Request(sock, addr, IntegrationTimeQuery, timeout)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(reply)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed integration time reply %q", reply)
	}
	n, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("malformed integration time reply %q", reply)
	}
	return time.Duration(n / 10 * float64(time.Second)), nil
}

// DispatcherIntegrationTime returns an IntegrationTimeFunc that queries the
// dispatcher at addr from a fresh socket each time.
func DispatcherIntegrationTime(addr string, timeout time.Duration) IntegrationTimeFunc {
	return func() (time.Duration, error) {
		raddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return 0, err
		}
		sock, err := apecs.ListenUDP(":0")
		if err != nil {
			return 0, err
		}
		defer sock.Close()
		return QueryIntegrationTime(sock, raddr, timeout)
	}
}

// EstimateIntegrationTime guesses the acquisition length from the frame
// count and readout geometry in the run file, with some margin.
func EstimateIntegrationTime(rf RunFile) (time.Duration, error) {
	frames, err := rf.FrameCount()
	if err != nil {
		return 0, err
	}
	g, err := rf.Geometry()
	if err != nil {
		return 0, err
	}
	rate := g.Rate()
	if rate <= 0 {
		return 0, fmt.Errorf("run file geometry %+v has no frame rate", g)
	}
	return time.Duration(float64(frames) / rate * estimateMargin * float64(time.Second)), nil
}
