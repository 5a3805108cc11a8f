package output

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

// CSVFormatter writes the catalog or the history as RFC 4180 CSV. Other
// sections have no tabular form and are skipped.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	cw := csv.NewWriter(w)

	if r.Catalog != nil {
		if err := cw.Write([]string{"chunk", "disk", "size", "path"}); err != nil {
			return err
		}
		for _, e := range r.Catalog {
			rec := []string{strconv.Itoa(e.Chunk), e.Disk, strconv.FormatInt(e.Size, 10), e.Path}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}

	if r.History != nil {
		if err := cw.Write([]string{"id", "name", "started_at", "completed", "failed", "elapsed_ms"}); err != nil {
			return err
		}
		for _, h := range r.History {
			rec := []string{
				h.ID, h.Name, h.StartedAt.Format(time.RFC3339),
				strconv.FormatUint(h.Completed, 10), strconv.FormatUint(h.Failed, 10),
				strconv.FormatInt(h.Elapsed().Milliseconds(), 10),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}


var _ Formatter = (*CSVFormatter)(nil)
