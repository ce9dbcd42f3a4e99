package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/reactorsim/internal/sim"
)

const (
	Title = "# Reactor simulation export"
	// Precision is the number of fractional digits for every field.
	Precision = 6
)

var Columns = []string{"time_s", "core_temp_c", "coolant_temp_c"}

// ArchiveColumns extends the export with the control inputs of each tick.
var ArchiveColumns = []string{"time_s", "core_temp_c", "coolant_temp_c", "rod_position", "flow_rate"}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', Precision, 64)
}

func row(s sim.Sample) []string {
	return []string{formatFloat(s.Time), formatFloat(s.CoreTemp), formatFloat(s.CoolantTemp)}
}

func archiveRow(s sim.Sample) []string {
	return append(row(s), formatFloat(s.RodPosition), formatFloat(s.FlowRate))
}

func writeHeader(w io.Writer, generated time.Time) error {
	_, err := fmt.Fprintf(w, "%s\n# Generated: %s UTC\n", Title, generated.UTC().Format(time.RFC3339))
	return err
}

// WriteCSV writes the title, the generation comment, the column header and
// one row per sample. An empty buffer still gets the header lines.
func WriteCSV(w io.Writer, samples []sim.Sample, generated time.Time) error {
	return writeTable(w, samples, generated, Columns, row)
}

// WriteArchive is WriteCSV with rod position and flow rate appended to
// every row.
func WriteArchive(w io.Writer, samples []sim.Sample, generated time.Time) error {
	return writeTable(w, samples, generated, ArchiveColumns, archiveRow)
}

func writeTable(w io.Writer, samples []sim.Sample, generated time.Time, header []string, format func(sim.Sample) []string) error {
	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, generated); err != nil {
		return err
	}
	cw := csv.NewWriter(bw)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range samples {
		if err := cw.Write(format(s)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadCSV parses an export or an archive back into samples. Comment lines
// and the column header are skipped. Rod and flow are read when present.
func ReadCSV(r io.Reader) ([]sim.Sample, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	samples := make([]sim.Sample, 0, len(records))
	for i, rec := range records {
		if len(rec) == 0 || (i == 0 && strings.TrimSpace(rec[0]) == Columns[0]) {
			continue
		}
		if len(rec) < len(Columns) {
			return nil, fmt.Errorf("row %d: expected %d fields, got %d", i+1, len(Columns), len(rec))
		}
		n := len(Columns)
		if len(rec) >= len(ArchiveColumns) {
			n = len(ArchiveColumns)
		}
		var vals [5]float64
		for j := 0; j < n; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d field %s: %w", i+1, ArchiveColumns[j], err)
			}
			vals[j] = v
		}
		samples = append(samples, sim.Sample{
			Time:        vals[0],
			CoreTemp:    vals[1],
			CoolantTemp: vals[2],
			RodPosition: vals[3],
			FlowRate:    vals[4],
		})
	}
	return samples, nil
}
