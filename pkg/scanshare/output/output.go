// Package output renders run reports, scheduler status, the chunk catalog and
// run history in several formats (pretty, plain, json, yaml, csv).
//
//	f, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	err = f.Format(&buf, &output.Result{Status: &st})
package output

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/jamesainslie/scanshare/pkg/scanshare/catalog"
	"github.com/jamesainslie/scanshare/pkg/scanshare/chunkdisk"
	"github.com/jamesainslie/scanshare/pkg/scanshare/history"
	"github.com/jamesainslie/scanshare/pkg/scanshare/scheduler"
	"github.com/jamesainslie/scanshare/pkg/scanshare/stats"
)

// Result is the document handed to a formatter. Nil sections are omitted.
type Result struct {
	Run    *history.Report   `json:"run,omitempty" yaml:"run,omitempty"`
	Status *scheduler.Status `json:"status,omitempty" yaml:"status,omitempty"`
	Stats  *stats.Snapshot   `json:"stats,omitempty" yaml:"stats,omitempty"`

	// Scan summarises a catalog scan; Catalog lists the chunks found.
	Scan    *catalog.ScanResult `json:"scan,omitempty" yaml:"scan,omitempty"`
	Catalog []catalog.Entry     `json:"catalog,omitempty" yaml:"catalog,omitempty"`

	// History lists archived run reports, newest first.
	History []*history.Report `json:"history,omitempty" yaml:"history,omitempty"`

	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// CatalogBytes returns the total size of the listed chunks.
func (r *Result) CatalogBytes() int64 {
	var total int64
	for _, e := range r.Catalog {
		total += e.Size
	}
	return total
}

// DiskUsage totals the listed chunks of one disk.
type DiskUsage struct {
	Disk   string
	Chunks int
	Bytes  int64
}

// CatalogByDisk groups the listed chunks by disk, ordered by disk name.
func (r *Result) CatalogByDisk() []DiskUsage {
	byDisk := make(map[string]*DiskUsage)
	for _, e := range r.Catalog {
		u, ok := byDisk[e.Disk]
		if !ok {
			u = &DiskUsage{Disk: e.Disk}
			byDisk[e.Disk] = u
		}
		u.Chunks++
		u.Bytes += e.Size
	}
	out := make([]DiskUsage, 0, len(byDisk))
	for _, u := range byDisk {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Disk < out[j].Disk })
	return out
}

// ActiveChunks counts the chunks of a disk snapshot that have started tasks.
func ActiveChunks(d chunkdisk.Snapshot) int {
	n := 0
	for _, c := range d.Chunks {
		if c.Active {
			n++
		}
	}
	return n
}

// Formatter writes a Result in one encoding.
type Formatter interface {
	Format(w *bytes.Buffer, r *Result) error
}

// Format names an output encoding.
type Format string

const (
	FormatPretty Format = "pretty"
	FormatPlain  Format = "plain"
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatCSV    Format = "csv"
)

// formatters are stateless, so one instance per format is shared.
var formatters = map[Format]Formatter{
	FormatPretty: &PrettyFormatter{},
	FormatPlain:  &PlainFormatter{},
	FormatJSON:   &JSONFormatter{},
	FormatYAML:   &YAMLFormatter{},
	FormatCSV:    &CSVFormatter{},
}

// ParseFormat resolves a format name. Matching ignores case and "yml" is
// accepted for yaml.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	if f == "yml" {
		f = FormatYAML
	}
	if _, ok := formatters[f]; !ok {
		return "", fmt.Errorf("unknown output format %q", name)
	}
	return f, nil
}

// Get returns the formatter for a format name.
func Get(name string) (Formatter, error) {
	f, err := ParseFormat(name)
	if err != nil {
		return nil, err
	}
	return formatters[f], nil
}

// Available returns the format names in sorted order.
func Available() []string {
	names := make([]string, 0, len(formatters))
	for f := range formatters {
		names = append(names, string(f))
	}
	slices.Sort(names)
	return names
}
