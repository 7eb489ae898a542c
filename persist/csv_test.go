package persist

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

func readAll(t *testing.T, path string) [][]string {
	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	assert.NoError(t, err)
	return rows
}

func TestAppend_HeaderWrittenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.csv")
	log := NewCSVLog(path)

	ts := time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC)
	assert.NoError(t, log.Append(schema.DeviceRecord{
		SSID:            "Home-5G",
		WifiPassword:    "hunter22",
		Serial:          "12345",
		MAC:             "AA:BB:CC:00:11:22",
		FirmwareVersion: "11.1.0.5",
		Timestamp:       ts,
		Address:         "172.16.192.1",
		Operation:       "adtran firmware upgrade",
	}))
	assert.NoError(t, log.Append(schema.DeviceRecord{
		Serial:    "67890",
		Timestamp: ts,
		Address:   "172.16.192.1",
		Operation: "adtran firmware upgrade",
	}))

	rows := readAll(t, path)
	assert.Len(t, rows, 3)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, []string{
		ts.Format(time.RFC3339), "adtran firmware upgrade", "172.16.192.1",
		"Home-5G", "hunter22", "12345", "AA:BB:CC:00:11:22", "11.1.0.5",
	}, rows[1])
	// Partial records keep their empty columns.
	assert.Equal(t, "67890", rows[2][5])
	assert.Equal(t, "", rows[2][3])
}

func TestAppend_ZeroTimestampFilled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.csv")
	assert.NoError(t, NewCSVLog(path).Append(schema.DeviceRecord{Serial: "1"}))
	rows := readAll(t, path)
	assert.Len(t, rows, 2)
	_, err := time.Parse(time.RFC3339, rows[1][0])
	assert.NoError(t, err)
}

func TestAppend_ExistingFileNotRewritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.csv")
	log := NewCSVLog(path)
	assert.NoError(t, log.Append(schema.DeviceRecord{Serial: "1"}))

	// A second writer on the same file appends below the existing header.
	assert.NoError(t, NewCSVLog(path).Append(schema.DeviceRecord{Serial: "2"}))
	rows := readAll(t, path)
	assert.Len(t, rows, 3)
	assert.Equal(t, header, rows[0])
}
