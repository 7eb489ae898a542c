package upgrader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chrisdefazio/adtranfirmwareupgrader/config"
	"github.com/chrisdefazio/adtranfirmwareupgrader/devices"
	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
	"github.com/chrisdefazio/adtranfirmwareupgrader/transport"
)

type fakeProber struct {
	reachable bool
	asked     []string
}

func (f *fakeProber) WaitReachable(address string, timeout, interval time.Duration) bool {
	f.asked = append(f.asked, address)
	return f.reachable
}

type fakeSession struct {
	outputs  map[string]string
	watch    []string
	executed []string
	closed   bool
	opts     schema.ConnectOptions
}

func (f *fakeSession) Execute(command string, quiet, ceiling time.Duration) schema.CommandResult {
	f.executed = append(f.executed, command)
	return schema.CommandResult{Command: command, Output: f.outputs[command]}
}

func (f *fakeSession) Watch(ceiling time.Duration, done func(chunk string) bool) string {
	var out string
	for _, chunk := range f.watch {
		out += chunk
		if done(chunk) {
			break
		}
	}
	return out
}

func (f *fakeSession) Close() error                   { f.closed = true; return nil }
func (f *fakeSession) Options() schema.ConnectOptions { return f.opts }

type fakeDialer struct {
	sessions []*fakeSession
	options  []schema.ConnectOptions
	err      error
}

func (f *fakeDialer) RetryWithBackoff(options schema.ConnectOptions, attempts int, delay time.Duration,
	override transport.OverrideFunc) (schema.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.options = append(f.options, options)
	s := f.sessions[len(f.options)-1]
	s.opts = options
	return s, nil
}

type fakeHost struct{ served bool }

func (f *fakeHost) Start() error            { return nil }
func (f *fakeHost) Served(file string) bool { return f.served }

func testTimings() Timings {
	return Timings{
		ReachTimeout:        50 * time.Millisecond,
		ReachInterval:       5 * time.Millisecond,
		ConnectTimeout:      10 * time.Millisecond,
		ConnectAttempts:     1,
		ConnectDelay:        0,
		PostConnectAttempts: 1,
		PostConnectDelay:    0,
		CommandQuiet:        5 * time.Millisecond,
		CommandCeiling:      20 * time.Millisecond,
		MonitorCeiling:      50 * time.Millisecond,
	}
}

func testProfile() devices.Profile {
	p := devices.ADTRAN()
	p.RebootSettle = 0
	p.ServiceSettle = 0
	return p
}

func testResolver(t *testing.T) *config.Resolver {
	t.Setenv("ADTRAN_INITIAL_USERNAME", "admin")
	t.Setenv("ADTRAN_INITIAL_PASSWORD", "factory-pw")
	t.Setenv("ADTRAN_UPGRADED_USERNAME", "support")
	t.Setenv("ADTRAN_UPGRADED_PASSWORD", "field-pw")
	r, err := config.NewResolver(devices.ADTRAN())
	assert.NoError(t, err)
	return r
}

func newOrchestrator(t *testing.T, pre, post *fakeSession) (*Orchestrator, *fakeDialer) {
	d := &fakeDialer{sessions: []*fakeSession{pre, post}}
	o := &Orchestrator{
		Profile:       testProfile(),
		Resolver:      testResolver(t),
		Prober:        &fakeProber{reachable: true},
		Dialer:        d,
		Timings:       testTimings(),
		ServerAddress: "192.168.1.100",
		ServerPort:    8000,
		FirmwareFile:  "fw.bin",
		BackupDir:     t.TempDir(),
	}
	return o, d
}

func TestRun_HappyPath(t *testing.T) {
	trigger := "upgrade http://192.168.1.100:8000/fw.bin"
	pre := &fakeSession{
		outputs: map[string]string{
			"show config":      "hostname gateway\ninterface eth0\n ip address 192.168.1.1\n",
			trigger:            "This will replace the running firmware. Do you want to proceed? (y/n)",
			"y":                "Starting download... 10%",
			"restore defaults": "Restoring factory configuration",
		},
		watch: []string{"Transfer 42% ", "writing flash ", "Upgrade complete\n"},
	}
	post := &fakeSession{
		outputs: map[string]string{
			"show wifi config": "wireless.i5g.ssid='Home-5G'\nwireless.i5g.key='hunter22'\n",
			"show mfg":         "MFG_SERIAL=12345\nMFG_MAC=AA:BB:CC:00:11:22\n",
			"show version":     "Firmware: 11.1.0.5\n",
		},
	}
	o, d := newOrchestrator(t, pre, post)

	res, err := o.Run("", "")
	assert.NoError(t, err)
	assert.Equal(t, Done, res.FinalState)
	assert.Empty(t, res.Warnings)
	assert.True(t, res.Outcome.DownloadStarted)
	assert.True(t, res.Outcome.Completed)
	assert.Contains(t, res.Outcome.Transcript, "Upgrade complete")

	assert.Equal(t, []string{"show config", trigger, "y", "restore defaults"}, pre.executed)
	assert.True(t, pre.closed)

	// The running configuration was captured before the flash.
	assert.NotEmpty(t, res.BackupPath)
	backup, readErr := os.ReadFile(res.BackupPath)
	assert.NoError(t, readErr)
	assert.Contains(t, string(backup), "hostname gateway")
	assert.Contains(t, filepath.Base(res.BackupPath), "adtran_config_192_168_1_1_")

	assert.Equal(t, "Home-5G", res.Record.SSID)
	assert.Equal(t, "hunter22", res.Record.WifiPassword)
	assert.Equal(t, "12345", res.Record.Serial)
	assert.Equal(t, "AA:BB:CC:00:11:22", res.Record.MAC)
	assert.Equal(t, "11.1.0.5", res.Record.FirmwareVersion)
	assert.Equal(t, "172.16.192.1", res.Record.Address)
	assert.Equal(t, "adtran firmware upgrade", res.Record.Operation)

	// Initial credentials before the flash, upgraded ones after.
	assert.Equal(t, "factory-pw", d.options[0].Credentials.Password)
	assert.Equal(t, "192.168.1.1", d.options[0].Endpoint.Address)
	assert.Equal(t, "field-pw", d.options[1].Credentials.Password)
	assert.Equal(t, "172.16.192.1", d.options[1].Endpoint.Address)
}

func TestRun_DeviceReportsFailure(t *testing.T) {
	trigger := "upgrade http://192.168.1.100:8000/fw.bin"
	pre := &fakeSession{
		outputs: map[string]string{
			"show config": "hostname gateway\n",
			trigger:       "Do you want to proceed? (y/n)",
			"y":           "starting",
		},
		watch: []string{"Error: flash write failed\n"},
	}
	post := &fakeSession{outputs: map[string]string{}}
	o, _ := newOrchestrator(t, pre, post)

	res, err := o.Run("", "")
	// A failure verdict is operator guidance, not a crash; the run finishes.
	assert.NoError(t, err)
	assert.Equal(t, Done, res.FinalState)
	assert.False(t, res.Outcome.Completed)
	assert.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "upgrade error")

	// Extraction found nothing; the partial record still exists.
	assert.NotNil(t, res.Record)
	assert.Equal(t, "", res.Record.Serial)
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "missing") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRun_NoVerdictIsSoftFailure(t *testing.T) {
	trigger := "upgrade http://192.168.1.100:8000/fw.bin"
	pre := &fakeSession{
		outputs: map[string]string{trigger: "proceed? (y/n)", "y": "ok"},
		watch:   []string{"Transfer 10% ", "Transfer 55% "},
	}
	post := &fakeSession{outputs: map[string]string{}}
	o, _ := newOrchestrator(t, pre, post)
	o.Host = &fakeHost{served: true}

	res, err := o.Run("", "")
	assert.NoError(t, err)
	assert.Equal(t, Done, res.FinalState)
	assert.False(t, res.Outcome.Completed)
	// The hosting side saw the fetch, so the download definitely started.
	assert.True(t, res.Outcome.DownloadStarted)

	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "no completion signal") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRun_SuccessInsideConfirmLoopSkipsWatch(t *testing.T) {
	trigger := "upgrade http://192.168.1.100:8000/fw.bin"
	pre := &fakeSession{
		outputs: map[string]string{
			trigger:            "proceed? (y/n)",
			"y":                "Transfer 100%. Upgrade successful.",
			"restore defaults": "restoring",
		},
		// Watch must never be consulted once the verdict is already in.
		watch: []string{"Error: should not be read\n"},
	}
	post := &fakeSession{outputs: map[string]string{}}
	o, _ := newOrchestrator(t, pre, post)

	res, err := o.Run("", "")
	assert.NoError(t, err)
	assert.True(t, res.Outcome.Completed)
	assert.NotContains(t, res.Outcome.Transcript, "should not be read")
}

func TestRun_ConfirmDepthBounded(t *testing.T) {
	trigger := "upgrade http://192.168.1.100:8000/fw.bin"
	pre := &fakeSession{
		outputs: map[string]string{
			trigger: "Do you want to proceed? (y/n)",
			"y":     "Are you really sure? Please confirm.",
		},
		watch: []string{"Upgrade complete\n"},
	}
	post := &fakeSession{outputs: map[string]string{}}
	o, _ := newOrchestrator(t, pre, post)

	res, err := o.Run("", "")
	assert.NoError(t, err)
	assert.Equal(t, Done, res.FinalState)

	affirmatives := 0
	for _, cmd := range pre.executed {
		if cmd == "y" {
			affirmatives++
		}
	}
	// MaxConfirmDepth caps the loop even when the device never stops asking.
	assert.Equal(t, o.Profile.MaxConfirmDepth, affirmatives)
}

func TestRun_BackupFailureIsWarning(t *testing.T) {
	trigger := "upgrade http://192.168.1.100:8000/fw.bin"
	// No "show config" output: the capture comes back empty.
	pre := &fakeSession{
		outputs: map[string]string{trigger: "Upgrade complete"},
	}
	post := &fakeSession{outputs: map[string]string{}}
	o, _ := newOrchestrator(t, pre, post)

	res, err := o.Run("", "")
	assert.NoError(t, err)
	assert.Equal(t, Done, res.FinalState)
	assert.Empty(t, res.BackupPath)

	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "configuration backup") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRun_NoBackupCommandSkipsCapture(t *testing.T) {
	trigger := "upgrade http://192.168.1.100:8000/fw.bin"
	pre := &fakeSession{outputs: map[string]string{trigger: "Upgrade complete"}}
	post := &fakeSession{outputs: map[string]string{}}
	o, _ := newOrchestrator(t, pre, post)
	o.Profile.BackupCommand = ""

	res, err := o.Run("", "")
	assert.NoError(t, err)
	assert.Empty(t, res.BackupPath)
	for _, cmd := range pre.executed {
		assert.NotEqual(t, "show config", cmd)
	}
	for _, w := range res.Warnings {
		assert.NotContains(t, w, "configuration backup")
	}
}

func TestRun_Unreachable(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeSession{}, &fakeSession{})
	o.Prober = &fakeProber{reachable: false}

	res, err := o.Run("", "")
	assert.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrUnreachable)
	assert.Equal(t, Failed, res.FinalState)
	assert.ErrorIs(t, res.Reason, schema.ErrUnreachable)
}

func TestRun_ConnectFailure(t *testing.T) {
	o, d := newOrchestrator(t, &fakeSession{}, &fakeSession{})
	d.err = fmt.Errorf("failed to connect: %w", schema.ErrAuthExhausted)

	res, err := o.Run("", "")
	assert.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrAuthExhausted)
	assert.Equal(t, Failed, res.FinalState)
}

func TestRun_AddressOverrides(t *testing.T) {
	trigger := "upgrade http://192.168.1.100:8000/fw.bin"
	pre := &fakeSession{outputs: map[string]string{trigger: "Upgrade complete"}}
	post := &fakeSession{outputs: map[string]string{}}
	o, d := newOrchestrator(t, pre, post)
	prober := &fakeProber{reachable: true}
	o.Prober = prober

	_, err := o.Run("10.1.1.1", "10.2.2.2")
	assert.NoError(t, err)
	assert.Equal(t, []string{"10.1.1.1", "10.2.2.2"}, prober.asked)
	assert.Equal(t, "10.1.1.1", d.options[0].Endpoint.Address)
	assert.Equal(t, "10.2.2.2", d.options[1].Endpoint.Address)
}

func TestCaptureWhole(t *testing.T) {
	out := "cat /etc/version\r\n11.2.0.1-COM\r\nroot@gateway:~# "
	assert.Equal(t, "11.2.0.1-COM", captureWhole(out, "cat /etc/version"))

	// Prompt-only output yields nothing.
	assert.Equal(t, "", captureWhole("root@gateway:~# ", "cat /etc/version"))
}

func TestMerge(t *testing.T) {
	p := schema.Progress{Started: true}
	merge(&p, schema.Progress{Succeeded: true})
	assert.True(t, p.Started)
	assert.True(t, p.Succeeded)
	assert.False(t, p.Failed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "failed", Failed.String())
}
