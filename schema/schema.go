package schema

import (
	"time"
)

type Phase int
type ConnectionMethod int

const (
	// Initial is the factory firmware phase, Upgraded the post-flash phase.
	// The phase decides which credential set and default address apply.
	Initial Phase = iota
	Upgraded
)

const (
	SSH ConnectionMethod = iota
	Telnet
)

func (p Phase) String() string {
	if p == Upgraded {
		return "upgraded"
	}
	return "initial"
}

// Endpoint is a device address paired with its upgrade phase. Immutable;
// the orchestrator derives a fresh one when the device changes address
// after a reboot.
type Endpoint struct {
	Address string
	Phase   Phase
}

type Credentials struct {
	Username string
	Password string
}

type ConnectOptions struct {
	Endpoint    Endpoint
	Credentials Credentials
	Port        int
	Method      ConnectionMethod
	Timeout     time.Duration
}

// OutputEvent is one chunk of raw shell output as it arrived on the wire.
// Chunks are opaque; framing is inferred from quiescence, never from content.
type OutputEvent struct {
	Data string
	Time time.Time
}

// CommandResult holds everything a command produced before the stream went
// quiet. Output may include echoes and trailing prompt characters.
type CommandResult struct {
	Command  string
	Output   string
	Duration time.Duration
}

func (r CommandResult) Empty() bool {
	return r.Output == ""
}

// UpgradeOutcome is produced once per upgrade attempt.
type UpgradeOutcome struct {
	DownloadStarted bool
	Completed       bool
	Transcript      string
}

// Progress is the classifier's verdict over a piece of device output.
type Progress struct {
	Started   bool
	Succeeded bool
	Failed    bool
}

// DeviceRecord is the harvested identity of an upgraded device. Fields the
// extractor could not find stay empty; a partial record is still a record.
type DeviceRecord struct {
	SSID            string
	WifiPassword    string
	Serial          string
	MAC             string
	FirmwareVersion string
	Timestamp       time.Time
	Address         string
	Operation       string
}

// Session is one live shell-backed command channel against an endpoint.
// Exactly one Session per Endpoint is open at a time; the orchestrator owns
// it and must Close it before abandoning it.
type Session interface {
	// Execute writes the command and collects output until the stream is
	// quiet for the quiet window or total time exceeds the ceiling. A closed
	// session returns an empty result rather than an error; many call sites
	// treat "nothing to execute" as benign during teardown.
	Execute(command string, quiet, ceiling time.Duration) CommandResult
	// Watch feeds each output chunk to done until it returns true or the
	// ceiling expires, returning the accumulated transcript.
	Watch(ceiling time.Duration, done func(chunk string) bool) string
	// Close is idempotent and tolerates an already-broken transport. It
	// blocks for a short settle period so the link quiesces before the next
	// reachability probe.
	Close() error
	Options() ConnectOptions
}

// Prober answers liveness questions about the target address.
type Prober interface {
	WaitReachable(address string, timeout, interval time.Duration) bool
}

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
	Critical(args ...interface{})
	Criticalf(format string, args ...interface{})
}
