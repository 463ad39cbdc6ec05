package benchmark

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CSVHeader is the column order of exported samples.
var CSVHeader = []string{
	"sensor_name",
	"reading_uuid",
	"send_timestamp",
	"recv_timestamp",
	"inference_latency",
	"registered_at",
}

// WriteCSV writes samples with a header row.
func WriteCSV(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, s := range samples {
		record := []string{
			s.SensorName,
			s.ReadingUUID,
			strconv.FormatInt(s.SendTimestamp, 10),
			strconv.FormatInt(s.RecvTimestamp, 10),
			strconv.FormatInt(s.InferenceLatency, 10),
			s.RegisteredAt.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes every stored sample to path and returns the row count.
func ExportCSV(ctx context.Context, repo Repository, path string) (int, error) {
	samples, err := repo.List(ctx, "")
	if err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteCSV(f, samples); err != nil {
		f.Close() //nolint:errcheck // Write error takes precedence
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", path, err)
	}
	return len(samples), nil
}
