package output

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter writes the same document as JSONFormatter in YAML.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}


var _ Formatter = (*YAMLFormatter)(nil)
