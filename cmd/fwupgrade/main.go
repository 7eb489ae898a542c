// Package main is the entrypoint for the fwupgrade CLI.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	upgrader "github.com/chrisdefazio/adtranfirmwareupgrader"
	"github.com/chrisdefazio/adtranfirmwareupgrader/config"
	"github.com/chrisdefazio/adtranfirmwareupgrader/devices"
	"github.com/chrisdefazio/adtranfirmwareupgrader/hosting"
	"github.com/chrisdefazio/adtranfirmwareupgrader/persist"
	"github.com/chrisdefazio/adtranfirmwareupgrader/probe"
	"github.com/chrisdefazio/adtranfirmwareupgrader/pubsub"
	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
	"github.com/chrisdefazio/adtranfirmwareupgrader/transport"
)

var (
	deviceFamily string
	firmwarePath string
	profilePath  string
	address      string
	newAddress   string
	mode         string
	hostPort     int
	recordPath   string
	backupDir    string
	assumeYes    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fwupgrade",
	Short: "Field firmware upgrader for consumer gateway devices",
	Long: `fwupgrade drives an interactive shell session against a gateway
device, serves it a firmware image over HTTP or TFTP, answers its
confirmation prompts, waits out the reboot and harvests the device
identity and wireless configuration into a CSV record.

Supported families: ` + strings.Join(devices.Families(), ", "),
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVarP(&deviceFamily, "device", "d", "", "device family ("+strings.Join(devices.Families(), "|")+")")
	rootCmd.Flags().StringVarP(&firmwarePath, "firmware", "f", "", "path to the firmware image file")
	rootCmd.Flags().StringVar(&profilePath, "profile", "", "YAML profile overriding the built-in vocabulary")
	rootCmd.Flags().StringVar(&address, "address", "", "device address (default: the family's factory address)")
	rootCmd.Flags().StringVar(&newAddress, "new-address", "", "device address after the upgrade (default: the family's)")
	rootCmd.Flags().StringVar(&mode, "mode", "auto", "connection detection: auto or manual")
	rootCmd.Flags().IntVar(&hostPort, "port", 0, "file-hosting port (default: 8000 for HTTP, 69 for TFTP)")
	rootCmd.Flags().StringVar(&recordPath, "records", "device_records.csv", "CSV file device records are appended to")
	rootCmd.Flags().StringVar(&backupDir, "backup-dir", "backups", "directory pre-flash configuration backups are written to")
	rootCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the upgrade confirmation prompt")
	_ = rootCmd.MarkFlagRequired("device")
	_ = rootCmd.MarkFlagRequired("firmware")
}

func run(cmd *cobra.Command, args []string) error {
	config.LoadEnv()

	profile, err := loadProfile()
	if err != nil {
		return err
	}

	info, err := os.Stat(firmwarePath)
	if err != nil || info.IsDir() {
		return fmt.Errorf("firmware file not found: %s", firmwarePath)
	}
	firmwareDir, firmwareFile := filepath.Split(firmwarePath)
	if firmwareDir == "" {
		firmwareDir = "."
	}

	resolver, err := config.NewResolver(profile)
	if err != nil {
		return err
	}

	// Echo everything the device says, live. There is no other feedback
	// channel while a five minute flash is running.
	echo := make(chan schema.OutputEvent, 64)
	pubsub.Subscribe(echo)
	go func() {
		for e := range echo {
			fmt.Print(e.Data)
		}
	}()

	prober := probe.New()
	serverAddr, err := detectServerAddress(prober)
	if err != nil {
		return err
	}
	fmt.Printf("Using local address %s\n", serverAddr)

	host, port, err := startHosting(profile, firmwareDir)
	if err != nil {
		return err
	}
	fmt.Printf("Serving firmware file %s\n", firmwareFile)

	if !assumeYes && !confirmUpgrade() {
		fmt.Println("Upgrade cancelled.")
		return nil
	}

	o := &upgrader.Orchestrator{
		Profile:       profile,
		Resolver:      resolver,
		Prober:        prober,
		Dialer:        transport.NewDialer(),
		Override:      terminalOverride,
		Timings:       upgrader.DefaultTimings(),
		ServerAddress: serverAddr,
		ServerPort:    port,
		FirmwareFile:  firmwareFile,
		Host:          host,
		BackupDir:     backupDir,
	}

	result, runErr := o.Run(address, newAddress)
	printSummary(result)

	if result.Record != nil {
		if err := persist.NewCSVLog(recordPath).Append(*result.Record); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not save device record: %v\n", err)
		} else {
			fmt.Printf("Device record appended to %s\n", recordPath)
		}
	}
	return runErr
}

func loadProfile() (devices.Profile, error) {
	if profilePath != "" {
		return devices.LoadProfile(profilePath)
	}
	profile, ok := devices.ByName(deviceFamily)
	if !ok {
		return devices.Profile{}, fmt.Errorf("unknown device family %q, expected one of: %s",
			deviceFamily, strings.Join(devices.Families(), ", "))
	}
	return profile, nil
}

func startHosting(profile devices.Profile, dir string) (hosting.Service, int, error) {
	switch profile.Transfer {
	case devices.TFTP:
		port := hostPort
		if port == 0 {
			port = 69
		}
		t := hosting.NewTFTP(dir, "0.0.0.0", port)
		return t, port, t.Start()
	default:
		port := hostPort
		if port == 0 {
			port = 8000
		}
		h := hosting.NewHTTP(dir, port)
		return h, port, h.Start()
	}
}

// detectServerAddress finds the bench machine's device-facing address:
// auto mode waits for a wired link and lets Enter switch to manual; manual
// mode lists interfaces and asks.
func detectServerAddress(prober *probe.Prober) (string, error) {
	if mode == "auto" {
		fmt.Println("Waiting for a wired connection to the device (press Enter to pick manually)...")
		link, err := prober.WaitLinkPresent(5*time.Minute, 3*time.Second, probe.EnterPending(os.Stdin))
		if err == nil {
			fmt.Printf("Detected wired link on %s\n", link.Interface)
			return link.Address, nil
		}
		fmt.Println("Switching to manual interface selection.")
	}
	links := probe.Interfaces()
	if len(links) == 0 {
		return "", fmt.Errorf("no network interfaces with an IPv4 address found")
	}
	if gw, err := probe.DefaultGateway(); err == nil {
		fmt.Printf("Default gateway: %s\n", gw)
	}
	fmt.Println("Available network interfaces:")
	for i, l := range links {
		fmt.Printf("%d. %s: %s\n", i+1, l.Interface, l.Address)
	}
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("Select the interface connected to the device (1-%d): ", len(links))
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		var idx int
		if _, err := fmt.Sscanf(strings.TrimSpace(line), "%d", &idx); err == nil && idx >= 1 && idx <= len(links) {
			return links[idx-1].Address, nil
		}
		fmt.Println("Please enter a valid number.")
	}
}

func confirmUpgrade() bool {
	fmt.Println("WARNING: this will upgrade the device's firmware and the device will reboot.")
	fmt.Print("Do you want to proceed with the upgrade? (y/N): ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

// terminalOverride asks a human for replacement credentials after both
// authentication mechanisms failed. The retry loop calls this at most once.
func terminalOverride(endpoint schema.Endpoint) (schema.Credentials, bool) {
	fmt.Printf("\nAuthentication to %s failed. Enter credentials manually? (y/N): ", endpoint.Address)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.EqualFold(strings.TrimSpace(line), "y") {
		return schema.Credentials{}, false
	}
	fmt.Print("Username: ")
	user, err := reader.ReadString('\n')
	if err != nil {
		return schema.Credentials{}, false
	}
	fmt.Print("Password: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return schema.Credentials{}, false
	}
	return schema.Credentials{
		Username: strings.TrimSpace(user),
		Password: string(pass),
	}, true
}

func printSummary(res *upgrader.Result) {
	fmt.Println("\n===== SUMMARY =====")
	fmt.Printf("Final state: %s\n", res.FinalState)
	if res.Reason != nil {
		fmt.Printf("Reason: %v\n", res.Reason)
	}
	if res.BackupPath != "" {
		fmt.Printf("Configuration backed up to: %s\n", res.BackupPath)
	}
	if res.Outcome.DownloadStarted {
		fmt.Println("Firmware download was initiated.")
	} else {
		fmt.Println("Firmware download may not have started.")
	}
	if res.Outcome.Completed {
		fmt.Println("Upgrade process completed successfully.")
	} else {
		fmt.Println("Upgrade completion confirmation not received.")
	}
	for _, w := range res.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	if r := res.Record; r != nil {
		fmt.Println("\n===== DEVICE INFORMATION =====")
		fmt.Printf("Address:     %s\n", r.Address)
		fmt.Printf("SSID:        %s\n", r.SSID)
		fmt.Printf("WiFi key:    %s\n", r.WifiPassword)
		fmt.Printf("Serial:      %s\n", r.Serial)
		fmt.Printf("MAC:         %s\n", r.MAC)
		fmt.Printf("Firmware:    %s\n", r.FirmwareVersion)
	}
}
