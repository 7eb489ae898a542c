package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteBackup saves a captured device configuration under dir, named by
// family, address and timestamp so a bench full of devices stays sorted.
// The directory is created on first use.
func WriteBackup(dir, family, address string, ts time.Time, config string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup dir: %w", err)
	}
	name := fmt.Sprintf("%s_config_%s_%s.txt", family,
		strings.ReplaceAll(address, ".", "_"), ts.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}
	return path, nil
}
