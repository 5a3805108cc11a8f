package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
)

// PlainFormatter writes uncoloured, tab-aligned sections suitable for
// scripting and piping.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	if r.Run != nil {
		run := r.Run
		fmt.Fprintf(tw, "RUN\t%s\n", run.Name)
		fmt.Fprintf(tw, "tasks\t%d submitted, %d completed, %d failed, %d dropped\n",
			run.Submitted, run.Completed, run.Failed, run.Dropped)
		fmt.Fprintf(tw, "elapsed\t%s\n", run.Elapsed().Round(time.Millisecond))
		fmt.Fprintf(tw, "read\t%s (cache %d hits, %d misses)\n",
			types.FormatSize(int64(run.BytesRead)), run.CacheHits, run.CacheMisses)
		fmt.Fprintln(tw)
	}

	if r.Status != nil {
		st := r.Status
		fmt.Fprintf(tw, "SCHEDULER\t%s\n", st.Name)
		fmt.Fprintf(tw, "queued\t%d\n", st.QueueSize)
		fmt.Fprintf(tw, "in flight\t%d/%d\n", st.InFlight, st.MaxThreads)
		fmt.Fprintln(tw, "DISK\tPENDING\tIN FLIGHT\tACTIVE")
		for _, d := range st.Disks {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d/%d\n", d.Name, d.Pending, d.InFlight, ActiveChunks(d), d.MaxActiveChunks)
		}
		fmt.Fprintln(tw)
	}

	if r.Stats != nil && len(r.Stats.Chunks) > 0 {
		fmt.Fprintln(tw, "CHUNK\tTASKS\tFAILED\tAVG\tSCANNED")
		for _, c := range r.Stats.Chunks {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", c.ChunkID, c.TasksCompleted, c.TasksFailed,
				c.AvgCompletion.Round(time.Microsecond), types.FormatSize(c.BytesScanned))
		}
		fmt.Fprintln(tw)
	}

	if r.Catalog != nil {
		fmt.Fprintln(tw, "CHUNK\tDISK\tSIZE\tPATH")
		for _, e := range r.Catalog {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Chunk, e.Disk, types.FormatSize(e.Size), e.Path)
		}
	}

	if r.History != nil {
		fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tTASKS\tFAILED\tELAPSED")
		for _, h := range r.History {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", shortID(h.ID), h.Name,
				h.StartedAt.Format(time.DateTime), h.Completed, h.Failed, h.Elapsed().Round(time.Millisecond))
		}
	}

	for _, warn := range r.Warnings {
		fmt.Fprintf(tw, "warning:\t%s\n", warn)
	}
	return tw.Flush()
}

// shortID trims a report id for tables. Commands accept the full id.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}


var _ Formatter = (*PlainFormatter)(nil)
