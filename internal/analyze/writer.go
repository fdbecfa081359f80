package analyze

import (
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

// Format selects how a [Writer] renders results.
type Format string

const (
	// FormatJSON writes all results as one indented JSON array on Close.
	FormatJSON Format = "json"

	// FormatJSONL writes one compact JSON object per result.
	FormatJSONL Format = "jsonl"

	// FormatText writes a human-readable report per result.
	FormatText Format = "text"
)

// ErrUnknownFormat is returned by [NewWriter] for an unsupported [Format].
var ErrUnknownFormat = errors.New("analyze: unknown output format")

// Writer renders results to an underlying writer. It is not safe for
// concurrent use.
type Writer struct {
	w       io.Writer
	format  Format
	pending []*Result
	enc     sonic.Encoder
}

// NewWriter returns a writer rendering results to w in format f.
func NewWriter(w io.Writer, f Format) (*Writer, error) {
	switch f {
	case FormatJSON, FormatText:
		return &Writer{w: w, format: f}, nil
	case FormatJSONL:
		return &Writer{w: w, format: f, enc: sonic.ConfigStd.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// Write renders r. With [FormatJSON] output is deferred until Close.
func (w *Writer) Write(r *Result) error {
	switch w.format {
	case FormatJSONL:
		return w.enc.Encode(r)
	case FormatText:
		return writeText(w.w, r)
	default:
		w.pending = append(w.pending, r)
		return nil
	}
}

// Close flushes deferred output. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.format != FormatJSON {
		return nil
	}
	results := w.pending
	if results == nil {
		results = []*Result{}
	}
	b, err := sonic.ConfigStd.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("analyze: encode json: %w", err)
	}
	w.pending = nil
	_, err = w.w.Write(append(b, '\n'))
	return err
}

func writeText(w io.Writer, r *Result) error {
	ew := &errWriter{w: w}
	ew.printf("%s: %d Hz, %d ch, %.3fs, %d blocks\n",
		r.Source, r.SampleRate, r.Channels, r.Duration.Duration().Seconds(), r.Blocks)
	for _, e := range r.Transitions {
		ew.printf("  %12.6f  %-13s  offset=%-5d  %s", e.Time.Duration().Seconds(), e.Kind, e.Offset, e.Direction)
		if e.Fallback {
			ew.printf(" (fallback)")
		}
		ew.printf("\n")
	}
	for _, reg := range r.Regions {
		ew.printf("  silent %.6f - %.6f\n", reg.Start.Duration().Seconds(), reg.End.Duration().Seconds())
	}
	ew.printf("  total silence %.3fs\n", r.SilentTime().Seconds())
	return ew.err
}

// errWriter stops writing after the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
