package devices

import (
	"time"

	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

// Comtrend gateways pull firmware over TFTP in image mode and keep their
// address across the flash; only the credential set changes. admin/admin is
// part of the family's contract, so missing configuration is not an error
// here.
func Comtrend() Profile {
	return Profile{
		Name:               "comtrend",
		Shell:              "ssh",
		EnvPrefix:          "COMTREND",
		DefaultCredentials: &schema.Credentials{Username: "admin", Password: "admin"},
		InitialAddress:     "192.168.1.1",
		UpgradedAddress:    "192.168.1.1",
		Transfer:           TFTP,
		BackupCommand:      "cat /etc/config/*",
		UpgradeCommand:     "tftp -g -t i -f {file} {server}",
		Affirmative:        "y",
		MaxConfirmDepth:    2,
		RestoreCommand:     "restoredefault",
		InfoQueries: []InfoQuery{
			{
				Command: "cat /etc/config/wireless",
				Markers: map[string]string{
					"ssid":          "option ssid",
					"wifi_password": "option key",
				},
			},
			{
				Command: "cat /proc/mfg",
				Markers: map[string]string{
					"serial": "MFG_SERIAL",
					"mac":    "MFG_MAC",
				},
			},
			{
				Command: "cat /etc/version",
				Capture: "firmware",
			},
		},
		RebootSettle:  2 * time.Minute,
		ServiceSettle: 30 * time.Second,
	}
}
