package output

import (
	"bytes"
	"encoding/json"
)

// JSONFormatter writes the result as one indented JSON document.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}


var _ Formatter = (*JSONFormatter)(nil)
