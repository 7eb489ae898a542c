// Package persist appends harvested device records to a durable tabular
// log. Partial records are written as-is; an empty column is still
// evidence the extraction ran.
package persist

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

var header = []string{
	"timestamp", "operation", "address", "ssid", "wifi_password",
	"serial", "mac", "firmware_version",
}

type CSVLog struct {
	Path string
}

func NewCSVLog(path string) *CSVLog {
	return &CSVLog{Path: path}
}

// Append writes one record, creating the file and writing the header first
// if the log doesn't exist yet.
func (c *CSVLog) Append(rec schema.DeviceRecord) error {
	f, err := os.OpenFile(c.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening record log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat record log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := []string{
		ts.Format(time.RFC3339),
		rec.Operation,
		rec.Address,
		rec.SSID,
		rec.WifiPassword,
		rec.Serial,
		rec.MAC,
		rec.FirmwareVersion,
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
