package alert

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"guardian/internal/models"
)

// Export writes the alert history as an indented JSON array. Alerts
// created before since are skipped; a zero since exports everything.
func (d *Dispatcher) Export(w io.Writer, since time.Time) (int, error) {
	alerts := d.History(0)
	out := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if !since.IsZero() && a.CreatedAt.Before(since) {
			continue
		}
		out = append(out, a)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 0, fmt.Errorf("failed to encode alerts: %w", err)
	}
	return len(out), nil
}

func (d *Dispatcher) ExportFile(path string, since time.Time) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	n, err := d.Export(f, since)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close export file: %w", cerr)
	}
	if err != nil {
		return 0, err
	}
	d.log.Infof("Exported %d alerts to %s", n, path)
	return n, nil
}

// ReadExport parses the output of Export.
func ReadExport(r io.Reader) ([]models.Alert, error) {
	var alerts []models.Alert
	if err := json.NewDecoder(r).Decode(&alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alert export: %w", err)
	}
	return alerts, nil
}
