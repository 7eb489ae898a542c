package devices

import "time"

// ADTRAN is the 834-series gateway vocabulary. The device pulls its image
// over HTTP, asks for up to two confirmations, and comes back on the
// 172.16.192.0/24 range with the upgraded credential set after flashing.
func ADTRAN() Profile {
	return Profile{
		Name:            "adtran",
		Shell:           "ssh",
		EnvPrefix:       "ADTRAN",
		InitialAddress:  "192.168.1.1",
		UpgradedAddress: "172.16.192.1",
		UpgradedCIDR:    "172.16.192.0/24",
		Transfer:        HTTP,
		BackupCommand:   "show config",
		UpgradeCommand:  "upgrade {url}",
		Affirmative:     "y",
		MaxConfirmDepth: 2,
		RestoreCommand:  "restore defaults",
		InfoQueries: []InfoQuery{
			{
				Command: "show wifi config",
				Markers: map[string]string{
					"ssid":          "wireless.i5g.ssid",
					"wifi_password": "wireless.i5g.key",
				},
			},
			{
				Command: "show mfg",
				Markers: map[string]string{
					"serial": "MFG_SERIAL",
					"mac":    "MFG_MAC",
				},
			},
			{
				Command: "show version",
				Markers: map[string]string{
					"firmware": "Firmware",
				},
			},
		},
		RebootSettle:  2 * time.Minute,
		ServiceSettle: 30 * time.Second,
	}
}
