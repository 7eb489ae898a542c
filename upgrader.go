// Package upgrader walks a gateway device through a field firmware
// upgrade: reach it, open a shell, trigger the flash, answer its
// confirmation prompts, watch the free-form output for progress, survive
// the reboot, reconnect on the other side and harvest the device identity.
package upgrader

import (
	"fmt"
	"strings"
	"time"

	"github.com/chrisdefazio/adtranfirmwareupgrader/config"
	"github.com/chrisdefazio/adtranfirmwareupgrader/devices"
	"github.com/chrisdefazio/adtranfirmwareupgrader/hosting"
	"github.com/chrisdefazio/adtranfirmwareupgrader/interaction"
	"github.com/chrisdefazio/adtranfirmwareupgrader/logger"
	"github.com/chrisdefazio/adtranfirmwareupgrader/persist"
	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
	"github.com/chrisdefazio/adtranfirmwareupgrader/transport"
)

var log schema.Logger

func init() {
	log = logger.Log
}

type State int

const (
	Idle State = iota
	Reaching
	Connecting
	PreClear
	Upgrading
	ConfirmLoop
	Monitoring
	PostRestore
	Disconnecting
	RebootWait
	ReachingPost
	ConnectingPost
	Extracting
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:           "idle",
	Reaching:       "reaching device",
	Connecting:     "connecting",
	PreClear:       "pre-clear",
	Upgrading:      "upgrading",
	ConfirmLoop:    "confirmation loop",
	Monitoring:     "monitoring upgrade",
	PostRestore:    "restoring defaults",
	Disconnecting:  "disconnecting",
	RebootWait:     "waiting for reboot",
	ReachingPost:   "reaching upgraded device",
	ConnectingPost: "connecting to upgraded device",
	Extracting:     "extracting device info",
	Done:           "done",
	Failed:         "failed",
}

func (s State) String() string { return stateNames[s] }

// Dialer is what the orchestrator needs from the transport layer.
type Dialer interface {
	RetryWithBackoff(options schema.ConnectOptions, attempts int, delay time.Duration,
		override transport.OverrideFunc) (schema.Session, error)
}

// Timings collects every tunable window and ceiling in one place. The
// quiescence windows are parameters, not constants: interactive commands
// want short quiet windows, the upgrade trigger wants a long ceiling.
type Timings struct {
	ReachTimeout  time.Duration
	ReachInterval time.Duration

	ConnectTimeout      time.Duration
	ConnectAttempts     int
	ConnectDelay        time.Duration
	PostConnectAttempts int
	PostConnectDelay    time.Duration

	CommandQuiet   time.Duration
	CommandCeiling time.Duration
	MonitorCeiling time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		ReachTimeout:        5 * time.Minute,
		ReachInterval:       5 * time.Second,
		ConnectTimeout:      10 * time.Second,
		ConnectAttempts:     3,
		ConnectDelay:        10 * time.Second,
		PostConnectAttempts: 5,
		PostConnectDelay:    15 * time.Second,
		CommandQuiet:        5 * time.Second,
		CommandCeiling:      30 * time.Second,
		MonitorCeiling:      5 * time.Minute,
	}
}

// Result is everything one run produced, including what went wrong.
type Result struct {
	FinalState State
	Reason     error
	Outcome    schema.UpgradeOutcome
	Record     *schema.DeviceRecord
	// BackupPath is the pre-flash configuration backup file, empty when
	// the family has no backup command or the capture failed.
	BackupPath string
	Warnings   []string
}

// Orchestrator runs the upgrade state machine. One run per device; every
// transition is one-directional and retries live inside the components,
// never in re-entered states.
type Orchestrator struct {
	Profile  devices.Profile
	Resolver *config.Resolver
	Prober   schema.Prober
	Dialer   Dialer
	Override transport.OverrideFunc
	Timings  Timings

	// Hosting collaborator coordinates: the address the device can reach
	// us on, the port the file service listens on, and the served file.
	ServerAddress string
	ServerPort    int
	FirmwareFile  string
	// Host corroborates the shell-side download heuristics when set.
	Host hosting.Service
	// BackupDir receives pre-flash configuration backups ("backups" when
	// empty).
	BackupDir string

	state State
}

func (o *Orchestrator) State() State { return o.state }

func (o *Orchestrator) transition(s State) {
	o.state = s
	log.Infof("===== %s =====", strings.ToUpper(s.String()))
}

func (o *Orchestrator) fail(res *Result, reason error) (*Result, error) {
	o.transition(Failed)
	res.FinalState = Failed
	res.Reason = reason
	log.Criticalf("Upgrade failed: %v", reason)
	return res, reason
}

// Run drives the machine from Idle to Done or Failed. The device starts at
// initialAddress; after the flash it is expected at postAddress (empty
// means the profile's default for the family). Extraction and restore
// problems are recorded as warnings, not failures.
func (o *Orchestrator) Run(initialAddress, postAddress string) (*Result, error) {
	res := &Result{}
	t := o.Timings

	if initialAddress == "" {
		initialAddress = o.Profile.InitialAddress
	}
	if postAddress == "" {
		postAddress = o.Profile.UpgradedAddress
	}

	o.transition(Reaching)
	if !o.Prober.WaitReachable(initialAddress, t.ReachTimeout, t.ReachInterval) {
		return o.fail(res, fmt.Errorf("device %s never answered: %w", initialAddress, schema.ErrUnreachable))
	}

	o.transition(Connecting)
	endpoint := schema.Endpoint{Address: initialAddress, Phase: schema.Initial}
	sess, err := o.Dialer.RetryWithBackoff(schema.ConnectOptions{
		Endpoint:    endpoint,
		Credentials: o.Resolver.ResolveEndpoint(endpoint),
		Method:      o.Profile.ConnectionMethod(),
		Timeout:     t.ConnectTimeout,
	}, t.ConnectAttempts, t.ConnectDelay, o.Override)
	if err != nil {
		return o.fail(res, err)
	}

	o.transition(PreClear)
	for _, cmd := range o.Profile.PreClear {
		sess.Execute(cmd, t.CommandQuiet, t.CommandCeiling)
	}
	if o.Profile.BackupCommand != "" {
		res.BackupPath = o.backup(sess, initialAddress, res)
	}

	o.transition(Upgrading)
	trigger := o.Profile.UpgradeTrigger(o.ServerAddress, o.ServerPort, o.FirmwareFile)
	result := sess.Execute(trigger, t.CommandQuiet, t.CommandCeiling)
	transcript := result.Output
	progress := interaction.ProgressSignal(result.Output)

	o.transition(ConfirmLoop)
	for depth := 0; interaction.IsConfirmationPrompt(result.Output); depth++ {
		if depth >= o.Profile.MaxConfirmDepth {
			// Unresolved prompts past the depth are best-effort, not fatal;
			// proceed to monitoring and let the output tell the story.
			log.Warningf("Confirmation depth %d exceeded, proceeding anyway.", depth)
			break
		}
		log.Infof("Confirmation prompt detected, sending %q...", o.Profile.Affirmative)
		result = sess.Execute(o.Profile.Affirmative, t.CommandQuiet, t.CommandCeiling)
		transcript += result.Output
		merge(&progress, interaction.ProgressSignal(result.Output))
	}

	o.transition(Monitoring)
	watched := o.monitor(sess, &progress)
	transcript += watched
	if o.Host != nil && o.Host.Served(o.FirmwareFile) {
		progress.Started = true
	}
	res.Outcome = schema.UpgradeOutcome{
		DownloadStarted: progress.Started,
		Completed:       progress.Succeeded,
		Transcript:      transcript,
	}
	switch {
	case progress.Succeeded:
		log.Info("Upgrade completed successfully.")
	case progress.Failed:
		res.Warnings = append(res.Warnings, "device reported an upgrade error; check the transcript")
		log.Warning("Upgrade failed according to device output.")
	default:
		// Soft failure: the ceiling expired with no verdict. The device may
		// still be flashing, so the run continues and the operator decides.
		res.Warnings = append(res.Warnings, fmt.Sprintf("%v: no completion signal within %v; the device may still be mid-upgrade", schema.ErrMonitorTimeout, t.MonitorCeiling))
		log.Warningf("No completion signal within %v. The upgrade may still be in progress.", t.MonitorCeiling)
	}

	o.transition(PostRestore)
	if o.Profile.RestoreCommand != "" {
		restore := sess.Execute(o.Profile.RestoreCommand, t.CommandQuiet, t.CommandCeiling)
		for depth := 0; interaction.IsConfirmationPrompt(restore.Output) && depth < o.Profile.MaxConfirmDepth; depth++ {
			restore = sess.Execute(o.Profile.Affirmative, t.CommandQuiet, t.CommandCeiling)
		}
		if restore.Empty() {
			res.Warnings = append(res.Warnings, "restore-defaults produced no output")
		}
	}

	o.transition(Disconnecting)
	_ = sess.Close()

	o.transition(RebootWait)
	log.Infof("Device is rebooting, waiting %v...", o.Profile.RebootSettle)
	time.Sleep(o.Profile.RebootSettle)

	o.transition(ReachingPost)
	if !o.Prober.WaitReachable(postAddress, t.ReachTimeout, t.ReachInterval) {
		return o.fail(res, fmt.Errorf("device never came back at %s: %w", postAddress, schema.ErrUnreachable))
	}
	log.Infof("Device answered, waiting %v for services to start...", o.Profile.ServiceSettle)
	time.Sleep(o.Profile.ServiceSettle)

	o.transition(ConnectingPost)
	postEndpoint := schema.Endpoint{Address: postAddress, Phase: schema.Upgraded}
	sess, err = o.Dialer.RetryWithBackoff(schema.ConnectOptions{
		Endpoint:    postEndpoint,
		Credentials: o.Resolver.ResolveEndpoint(postEndpoint),
		Method:      o.Profile.ConnectionMethod(),
		Timeout:     t.ConnectTimeout,
	}, t.PostConnectAttempts, t.PostConnectDelay, o.Override)
	if err != nil {
		return o.fail(res, err)
	}
	defer sess.Close()

	o.transition(Extracting)
	record, missing := o.extract(sess, postAddress)
	res.Record = record
	if len(missing) > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%v: missing %s", schema.ErrExtractionIncomplete, strings.Join(missing, ", ")))
		log.Warningf("Device record incomplete, missing: %s", strings.Join(missing, ", "))
	}

	o.transition(Done)
	res.FinalState = Done
	return res, nil
}

// monitor feeds output chunks to the progress classifier until a verdict
// arrives or the ceiling expires. Success is checked before failure, so a
// chunk carrying both marker classes resolves to success.
func (o *Orchestrator) monitor(sess schema.Session, p *schema.Progress) string {
	if p.Succeeded || p.Failed {
		return ""
	}
	return sess.Watch(o.Timings.MonitorCeiling, func(chunk string) bool {
		sig := interaction.ProgressSignal(chunk)
		if sig.Started {
			p.Started = true
		}
		if sig.Succeeded {
			p.Succeeded = true
			return true
		}
		if sig.Failed {
			p.Failed = true
			return true
		}
		return false
	})
}

// backup captures the running configuration to a local file before the
// flash wipes it. Best effort: a failed capture is a warning and the
// upgrade proceeds, same as every other non-fatal step.
func (o *Orchestrator) backup(sess schema.Session, address string, res *Result) string {
	dir := o.BackupDir
	if dir == "" {
		dir = "backups"
	}
	cfg := sess.Execute(o.Profile.BackupCommand, o.Timings.CommandQuiet, o.Timings.CommandCeiling)
	if cfg.Empty() {
		res.Warnings = append(res.Warnings, "configuration backup produced no output")
		log.Warning("Failed to back up configuration: no output.")
		return ""
	}
	path, err := persist.WriteBackup(dir, o.Profile.Name, address, time.Now(), cfg.Output)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("configuration backup failed: %v", err))
		log.Warningf("Failed to back up configuration: %v", err)
		return ""
	}
	log.Infof("Configuration backed up to %s", path)
	return path
}

var recordFields = []string{"ssid", "wifi_password", "serial", "mac", "firmware"}

// extract runs the family's read-only info battery and assembles the
// record. Whatever the scraper can't find stays empty.
func (o *Orchestrator) extract(sess schema.Session, address string) (*schema.DeviceRecord, []string) {
	t := o.Timings
	fields := map[string]string{}
	for _, q := range o.Profile.InfoQueries {
		result := sess.Execute(q.Command, t.CommandQuiet, t.CommandCeiling)
		if result.Empty() {
			continue
		}
		if q.Capture != "" {
			if _, done := fields[q.Capture]; !done {
				if v := captureWhole(result.Output, q.Command); v != "" {
					fields[q.Capture] = v
				}
			}
			continue
		}
		for field, value := range interaction.Extract(result.Output, q.Markers) {
			if _, done := fields[field]; !done {
				fields[field] = value
			}
		}
	}

	var missing []string
	for _, f := range recordFields {
		if fields[f] == "" {
			missing = append(missing, f)
		}
	}
	return &schema.DeviceRecord{
		SSID:            fields["ssid"],
		WifiPassword:    fields["wifi_password"],
		Serial:          fields["serial"],
		MAC:             fields["mac"],
		FirmwareVersion: fields["firmware"],
		Timestamp:       time.Now(),
		Address:         address,
		Operation:       o.Profile.Name + " firmware upgrade",
	}, missing
}

// captureWhole cleans a whole-output capture: the command echo and
// prompt-looking lines are noise, the rest is the value.
func captureWhole(output, command string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r ")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.Contains(trimmed, command) {
			continue
		}
		if strings.HasSuffix(trimmed, "#") || strings.HasSuffix(trimmed, ">") || strings.HasSuffix(trimmed, "$") {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, " ")
}

func merge(dst *schema.Progress, src schema.Progress) {
	dst.Started = dst.Started || src.Started
	dst.Succeeded = dst.Succeeded || src.Succeeded
	dst.Failed = dst.Failed || src.Failed
}
