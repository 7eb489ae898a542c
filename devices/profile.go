package devices

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

// Transfer names the file-transfer service the device pulls firmware from.
type Transfer string

const (
	HTTP Transfer = "http"
	TFTP Transfer = "tftp"
)

// InfoQuery is one read-only command plus the line markers that identify
// the fields inside its output.
type InfoQuery struct {
	Command string            `yaml:"command"`
	Markers map[string]string `yaml:"markers"`
	// Capture takes the entire trimmed output as the named field, for
	// commands whose whole output is the value (version files and such).
	Capture string `yaml:"capture"`
}

// Profile is the device-family command vocabulary the orchestrator executes
// as an opaque script. Families differ only in configuration, never in
// control flow.
type Profile struct {
	Name  string `yaml:"name"`
	Shell string `yaml:"shell"` // ssh or telnet

	// EnvPrefix selects the credential keys, e.g. ADTRAN_INITIAL_USERNAME.
	EnvPrefix string `yaml:"env_prefix"`
	// DefaultCredentials is the documented family default (admin/admin for
	// Comtrend). Families without one require configuration.
	DefaultCredentials *schema.Credentials `yaml:"default_credentials"`

	InitialAddress  string `yaml:"initial_address"`
	UpgradedAddress string `yaml:"upgraded_address"`
	// UpgradedCIDR is the post-upgrade address range; any address inside it
	// resolves to the upgraded credential set.
	UpgradedCIDR string `yaml:"upgraded_cidr"`

	Transfer Transfer `yaml:"transfer"`

	// PreClear commands run before the upgrade trigger, if the family
	// needs any housekeeping on the device first.
	PreClear []string `yaml:"pre_clear"`
	// BackupCommand dumps the running configuration; its output is saved
	// locally before the flash wipes it. Empty skips the backup.
	BackupCommand string `yaml:"backup_command"`
	// UpgradeCommand is a template; {url}, {file}, {server} and {port}
	// expand against the hosting collaborator before sending.
	UpgradeCommand  string `yaml:"upgrade_command"`
	Affirmative     string `yaml:"affirmative"`
	MaxConfirmDepth int    `yaml:"max_confirm_depth"`
	RestoreCommand  string `yaml:"restore_command"`

	InfoQueries []InfoQuery `yaml:"info_queries"`

	// Timings are not operator-tunable; overrides cover vocabulary only.
	RebootSettle  time.Duration `yaml:"-"`
	ServiceSettle time.Duration `yaml:"-"`
}

func (p Profile) ConnectionMethod() schema.ConnectionMethod {
	if strings.EqualFold(p.Shell, "telnet") {
		return schema.Telnet
	}
	return schema.SSH
}

// UpgradeTrigger expands the family's upgrade command against the hosting
// service's address, port and served filename.
func (p Profile) UpgradeTrigger(server string, port int, file string) string {
	url := fmt.Sprintf("http://%s:%d/%s", server, port, file)
	r := strings.NewReplacer(
		"{url}", url,
		"{file}", file,
		"{server}", server,
		"{port}", strconv.Itoa(port),
	)
	return r.Replace(p.UpgradeCommand)
}

// LoadProfile overlays a YAML vocabulary file onto a built-in family
// profile. Unknown family names are an error; the orchestrator only knows
// how to drive vocabularies shaped like the built-ins.
func LoadProfile(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	base, ok := ByName(p.Name)
	if !ok {
		base = Profile{RebootSettle: 2 * time.Minute, ServiceSettle: 30 * time.Second}
	}
	merged := base
	overlay(&merged, p)
	return merged, nil
}

func overlay(dst *Profile, src Profile) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Shell != "" {
		dst.Shell = src.Shell
	}
	if src.EnvPrefix != "" {
		dst.EnvPrefix = src.EnvPrefix
	}
	if src.DefaultCredentials != nil {
		dst.DefaultCredentials = src.DefaultCredentials
	}
	if src.InitialAddress != "" {
		dst.InitialAddress = src.InitialAddress
	}
	if src.UpgradedAddress != "" {
		dst.UpgradedAddress = src.UpgradedAddress
	}
	if src.UpgradedCIDR != "" {
		dst.UpgradedCIDR = src.UpgradedCIDR
	}
	if src.Transfer != "" {
		dst.Transfer = src.Transfer
	}
	if len(src.PreClear) > 0 {
		dst.PreClear = src.PreClear
	}
	if src.BackupCommand != "" {
		dst.BackupCommand = src.BackupCommand
	}
	if src.UpgradeCommand != "" {
		dst.UpgradeCommand = src.UpgradeCommand
	}
	if src.Affirmative != "" {
		dst.Affirmative = src.Affirmative
	}
	if src.MaxConfirmDepth != 0 {
		dst.MaxConfirmDepth = src.MaxConfirmDepth
	}
	if src.RestoreCommand != "" {
		dst.RestoreCommand = src.RestoreCommand
	}
	if len(src.InfoQueries) > 0 {
		dst.InfoQueries = src.InfoQueries
	}
}

// ByName looks up a built-in family profile.
func ByName(name string) (Profile, bool) {
	switch strings.ToLower(name) {
	case "adtran":
		return ADTRAN(), true
	case "comtrend":
		return Comtrend(), true
	}
	return Profile{}, false
}

func Families() []string {
	return []string{"adtran", "comtrend"}
}
