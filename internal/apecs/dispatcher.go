// Package apecs terminates the APECS control protocol: text commands over
// UDP that query and set operating parameters and trigger hardware
// directives.
package apecs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/zeus2/zeus2be/internal/hardware"
	"github.com/zeus2/zeus2be/internal/monitoring"
	"github.com/zeus2/zeus2be/internal/timeutil"
)

var logf = monitoring.Tagged("apecs")

// NotImplemented is returned for unknown parameters and commands.
const NotImplemented = "ERROR NOT_IMPLEMENTED"

// Submitter accepts hardware directives.
type Submitter interface {
	Submit(d hardware.Directive) error
}

// GratingReader reports the last hardware-read grating index.
type GratingReader interface {
	GratingIndex() int
}

// ScanSource supplies the telescope scan number for filenames.
type ScanSource interface {
	ScanNum() int
	Refresh()
}

// Namer resolves "{num}" filename patterns.
type Namer interface {
	Resolve(pattern string) (string, error)
}

// Options configures a Dispatcher.
type Options struct {
	// Backend is this backend's name in the second command field.
	Backend string
	// Prefixes lists the accepted first command fields.
	Prefixes []string
	Clock    timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.Backend == "" {
		o.Backend = "ZEUS2BE"
	}
	if len(o.Prefixes) == 0 {
		o.Prefixes = []string{"APEX", "ZSCR"}
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Dispatcher answers control lines and forwards commands to the hardware
// orchestrator. Replies go to the sender of the most recent datagram;
// deferred acknowledgements go to the sender of the command they answer.
type Dispatcher struct {
	sock    UDPSocket
	params  *Params
	orch    Submitter
	grating GratingReader
	scans   ScanSource
	names   Namer
	opts    Options

	mu      sync.Mutex
	replyTo *net.UDPAddr
}

// NewDispatcher creates a dispatcher replying over sock.
func NewDispatcher(sock UDPSocket, orch Submitter, grating GratingReader, scans ScanSource, names Namer, opts Options) *Dispatcher {
	return &Dispatcher{
		sock:    sock,
		params:  NewParams(),
		orch:    orch,
		grating: grating,
		scans:   scans,
		names:   names,
		opts:    opts.withDefaults(),
	}
}

// Params returns the operating parameter table.
func (d *Dispatcher) Params() *Params {
	return d.params
}

// Serve reads control datagrams until ctx is cancelled or the socket is
// closed.
func (d *Dispatcher) Serve(ctx context.Context) error {
	buf := make([]byte, MaxMessageSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.sock.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return err
		}
		n, addr, err := d.sock.ReadFromUDP(buf)
		switch {
		case err == nil:
			d.HandleMessage(buf[:n], addr)
		case isTimeout(err):
		case errors.Is(err, net.ErrClosed):
			return nil
		default:
			logf("read error: %v", err)
		}
	}
}

// HandleMessage processes every newline-separated line of one datagram in
// order.
func (d *Dispatcher) HandleMessage(msg []byte, from *net.UDPAddr) {
	d.mu.Lock()
	d.replyTo = from
	d.mu.Unlock()

	for _, line := range strings.Split(strings.TrimSpace(string(msg)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			d.handleLine(line, from)
		}
	}
}

func (d *Dispatcher) accepts(prefix, backend string) bool {
	if backend != d.opts.Backend {
		return false
	}
	for _, p := range d.opts.Prefixes {
		if prefix == p {
			return true
		}
	}
	return false
}

func (d *Dispatcher) handleLine(line string, from *net.UDPAddr) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 3 || !d.accepts(parts[0], parts[1]) {
		logf("ignoring odd message %q", line)
		monitoring.APECSMessages.WithLabelValues("dropped").Inc()
		return
	}
	echo := parts[0] + ":" + parts[1] + ":"
	body := strings.TrimSpace(parts[2])

	switch {
	case strings.Contains(body, "?"):
		monitoring.APECSMessages.WithLabelValues("query").Inc()
		d.respond(from, echo, d.query(strings.Trim(body, "?")))
	case strings.Contains(body, " "):
		monitoring.APECSMessages.WithLabelValues("set").Inc()
		d.respond(from, echo, d.set(body))
	default:
		monitoring.APECSMessages.WithLabelValues("execute").Inc()
		d.execute(strings.ToLower(body), from, echo)
	}
}

func (d *Dispatcher) query(key string) string {
	if Normalize(key) == ParamGratingIndex {
		return fmt.Sprintf("%s %d", key, d.grating.GratingIndex())
	}
	v, ok := d.params.Get(key)
	if !ok {
		v = NotImplemented
	}
	return key + " " + v
}

func (d *Dispatcher) set(body string) string {
	key, value, _ := strings.Cut(body, " ")
	value = strings.TrimSpace(value)
	d.params.Set(key, value)
	return key + " " + value
}

func (d *Dispatcher) execute(cmd string, from *net.UDPAddr, echo string) {
	reply := func(v string) { d.respond(from, echo, v) }

	switch cmd {
	case "configure":
		d.configure(reply)
		return
	case "start":
		d.start(reply)
		return
	case "gratinggo":
		idx, err := d.params.Int(ParamGratingIndex)
		if err != nil {
			logf("bad grating index: %v", err)
			reply(cmd + " ERROR " + hardware.CodeInvalidParameter)
			return
		}
		if err := d.orch.Submit(hardware.MoveGrating{Index: idx}); err != nil {
			reply(cmd + " ERROR " + hardware.CodeHardwareFailure)
			return
		}
	case "stop", "abort":
		d.params.Set(ParamState, StateDisabled)
	case "auto_setup":
		if err := d.orch.Submit(hardware.AutoSetup{}); err != nil {
			reply(cmd + " ERROR " + hardware.CodeHardwareFailure)
			return
		}
	default:
		reply(cmd + " " + NotImplemented)
		return
	}
	reply(cmd)
}

// configure submits the acquisition parameters; the orchestrator replies
// when the devices are programmed.
func (d *Dispatcher) configure(reply hardware.Ack) {
	var p hardware.AcquisitionParams
	var err error
	if p.IntegrationMS, err = d.params.Int(ParamIntegrationTime); err == nil {
		// APECS sends integration time in units of 100 ms.
		p.IntegrationMS *= 100
		if p.SyncUS, err = d.params.Int(ParamSyncTime); err == nil {
			p.BlankUS, err = d.params.Int(ParamBlankTime)
		}
	}
	if err != nil {
		logf("bad configure parameters: %v", err)
		reply(string(hardware.KindConfigure) + " ERROR " + hardware.CodeInvalidParameter)
		return
	}
	p.UseChopper = d.params.Bool(ParamUseChopper)

	d.scans.Refresh()
	if err := d.orch.Submit(hardware.Configure{Params: p, Ack: reply}); err != nil {
		logf("configure not queued: %v", err)
		reply(string(hardware.KindConfigure) + " ERROR " + hardware.CodeHardwareFailure)
	}
}

// start names the next data file and submits the acquisition.
func (d *Dispatcher) start(reply hardware.Ack) {
	d.params.Set(ParamState, StateEnabled)

	name, err := d.names.Resolve(d.FilenamePattern())
	if err != nil {
		logf("cannot name acquisition file: %v", err)
		reply(string(hardware.KindAcquire) + " ERROR " + hardware.CodeHardwareFailure)
		return
	}
	if err := d.orch.Submit(hardware.Acquire{Filename: name, Ack: reply}); err != nil {
		logf("acquisition not queued: %v", err)
		reply(string(hardware.KindAcquire) + " ERROR " + hardware.CodeHardwareFailure)
	}
}

// FilenamePattern returns the file pattern for the next acquisition:
// total power scans have no blanking, lab chop scans carry the scan
// offset.
func (d *Dispatcher) FilenamePattern() string {
	scan := d.scans.ScanNum()
	blank, err := d.params.Int(ParamBlankTime)
	switch {
	case err == nil && blank == 0:
		return fmt.Sprintf("total_power_%d_%s", scan, hardware.NumPlaceholder)
	case d.params.Bool(ParamUseChopper):
		offset, _ := d.params.Int(ParamScanOffset)
		return fmt.Sprintf("skychop_%d_%s", scan+offset, hardware.NumPlaceholder)
	default:
		return fmt.Sprintf("apecs_%d_%s", scan, hardware.NumPlaceholder)
	}
}

// respond sends "<echo><value> <TAI timestamp>" to addr.
func (d *Dispatcher) respond(addr *net.UDPAddr, echo, value string) {
	msg := fmt.Sprintf("%s%s %s", echo, value, timeutil.FormatTAI(d.opts.Clock.Now().UTC()))
	logf("sending: %s", msg)
	if _, err := d.sock.WriteToUDP([]byte(msg), addr); err != nil {
		logf("reply to %s failed: %v", addr, err)
	}
}

// ReplyAddr returns the sender of the most recent datagram.
func (d *Dispatcher) ReplyAddr() *net.UDPAddr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replyTo
}
