package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/tabflow/tabflow/pkg/export"
	"github.com/tabflow/tabflow/pkg/record"
	"github.com/tabflow/tabflow/pkg/tui"
)

// generateFile writes n synthetic rows for the schema, for load and
// strategy testing. The output format follows the file extension.
func generateFile(path string, schema *record.Schema, n int) error {
	w, err := export.OpenWriter(path, export.CSVWriterOptions{})
	if err != nil {
		return err
	}
	if err := w.WriteHeader(schema.FieldNames()); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	base := time.Now().Add(-365 * 24 * time.Hour)
	bar := tui.ShowProgress(int64(n), "generating")

	row := make([]string, schema.NumFields())
	for i := 0; i < n; i++ {
		for f, fd := range schema.Fields() {
			switch fd.Kind {
			case record.KindInt:
				row[f] = fmt.Sprintf("%d", 18+rng.Intn(60))
			case record.KindFloat:
				row[f] = fmt.Sprintf("%.2f", rng.Float64()*100)
			case record.KindBool:
				row[f] = fmt.Sprintf("%t", rng.Intn(2) == 0)
			case record.KindTime:
				ts := base.Add(time.Duration(rng.Intn(365*24)) * time.Hour)
				row[f] = ts.Format(record.TimeLayout)
			default:
				row[f] = fmt.Sprintf("%s%d", fd.Name, i)
			}
		}
		if err := w.WriteRow(row); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return w.Close()
}
