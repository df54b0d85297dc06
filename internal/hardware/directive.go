package hardware

import "fmt"

// Ack delivers an acknowledgement value back to whoever submitted a
// directive. The dispatcher binds it to the reply address and protocol
// prefix of the originating command.
type Ack func(value string)

// Kind names a directive type. The names match the protocol commands.
type Kind string

const (
	KindConfigure   Kind = "configure"
	KindAcquire     Kind = "start"
	KindMoveGrating Kind = "gratinggo"
	KindAutoSetup   Kind = "auto_setup"
)

// Directive is a unit of work for the orchestrator.
type Directive interface {
	Kind() Kind
}

// Configure derives an acquisition configuration and programs the devices
// for it. Ack receives "configure" or "configure ERROR <code>".
type Configure struct {
	Params AcquisitionParams
	Ack    Ack
}

// Acquire records one data file. Filename must already be resolved. Ack
// receives "start" as soon as the pulse hardware is armed, or
// "start ERROR <code>" if that fails.
type Acquire struct {
	Filename string
	Ack      Ack
}

// MoveGrating drives the grating to Index.
type MoveGrating struct {
	Index int
}

// AutoSetup runs the readout calibration sequence.
type AutoSetup struct{}

func (Configure) Kind() Kind   { return KindConfigure }
func (Acquire) Kind() Kind     { return KindAcquire }
func (MoveGrating) Kind() Kind { return KindMoveGrating }
func (AutoSetup) Kind() Kind   { return KindAutoSetup }

// Error codes carried in negative acknowledgements.
const (
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeHardwareFailure  = "HARDWARE_FAILURE"
	CodeNotConfigured    = "NOT_CONFIGURED"
)

func nack(kind Kind, code string) string {
	return fmt.Sprintf("%s ERROR %s", kind, code)
}

func (a Ack) send(value string) {
	if a != nil {
		a(value)
	}
}

// State is the orchestrator's current activity.
type State int

const (
	Idle State = iota
	Configuring
	Acquiring
	MovingGrating
	RunningAutoSetup
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configuring:
		return "configuring"
	case Acquiring:
		return "acquiring"
	case MovingGrating:
		return "moving_grating"
	case RunningAutoSetup:
		return "auto_setup"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func stateFor(k Kind) State {
	switch k {
	case KindConfigure:
		return Configuring
	case KindAcquire:
		return Acquiring
	case KindMoveGrating:
		return MovingGrating
	case KindAutoSetup:
		return RunningAutoSetup
	}
	return Idle
}
