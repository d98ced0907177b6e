// Package output writes result records as an index plus one file per dataset.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"dashscrape/internal/components/telemetry"

	"github.com/moby/sys/atomicwriter"
)

const (
	report_writer_write = "writer.write"
)

// Record is the parsed result of one exchange. Values is what ends up in the
// record's own file, everything in Fields is kept inline in the index.
type Record struct {
	Code   string
	Values any
	// Extension of the values file, "json" when empty.
	Extension string
	Sections  []*Record
	Fields    map[string]any
}

func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["code"] = r.Code
	if r.Values != nil {
		out["values"] = r.Values
	}
	if r.Extension != "" {
		out["extension"] = r.Extension
	}
	if len(r.Sections) > 0 {
		out["sections"] = r.Sections
	}
	return json.Marshal(out)
}

// Section returns the section with `code`, or nil.
func (r *Record) Section(code string) *Record {
	for _, s := range r.Sections {
		if s.Code == code {
			return s
		}
	}
	return nil
}

// Writer is safe for concurrent use.
type Writer struct {
	dir string
	tel telemetry.API

	mutex sync.Mutex
	files int
}

func NewWriter(dir string, tel telemetry.API) (*Writer, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Writer{
		dir: dir,
		tel: telemetry.NewScopedAPI("output", tel),
	}, nil
}

// FilesWritten is the amount of files written so far.
func (w *Writer) FilesWritten() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.files
}

func (w *Writer) WriteFile(name string, contents []byte) error {
	path := filepath.Join(w.dir, name)
	err := atomicwriter.WriteFile(path, contents, 0644)
	if err != nil {
		w.tel.ReportBroken(report_writer_write, err, path)
		return fmt.Errorf("write %s: %w", name, err)
	}
	w.mutex.Lock()
	w.files++
	w.mutex.Unlock()
	w.tel.ReportDebug("wrote file", path, len(contents))
	return nil
}

func (w *Writer) WriteJSON(name string, value any) error {
	contents, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return w.WriteFile(name, contents)
}

// WriteValue writes strings as they are and anything else as JSON.
func (w *Writer) WriteValue(name string, value any) error {
	if s, ok := value.(string); ok {
		return w.WriteFile(name, []byte(s))
	}
	return w.WriteJSON(name, value)
}

// WriteRecords moves the values of every record and section into their own
// files, replacing them with the file name, then writes index.json.
func (w *Writer) WriteRecords(records []*Record) error {
	for _, record := range records {
		err := w.moveValues(record, "")
		if err != nil {
			return err
		}
		for _, section := range record.Sections {
			err := w.moveValues(section, record.Code+"-")
			if err != nil {
				return err
			}
		}
	}
	return w.WriteJSON("index.json", records)
}

func (w *Writer) moveValues(record *Record, prefix string) error {
	if record.Values == nil {
		return nil
	}
	ext := record.Extension
	if ext == "" {
		ext = "json"
	}
	name := fmt.Sprintf("%s%s.%s", prefix, record.Code, ext)
	err := w.WriteValue(name, record.Values)
	if err != nil {
		return err
	}
	record.Values = name
	record.Extension = ""
	return nil
}
