package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Appender appends payload rows to a catalog CSV file, creating the file
// (with a `prompt` header) when absent. Appended rows keep the existing
// header's column count so the file stays loadable.
type Appender struct {
	f         *os.File
	w         *csv.Writer
	header    []string
	promptCol int
	n         int
}

// OpenAppender opens path for appending and establishes the current row count.
func OpenAppender(path string) (*Appender, error) {
	header := []string{"prompt"}
	promptCol := 0
	n := 0
	hasHeader := false
	needsNL := false

	rf, err := os.Open(path)
	switch {
	case err == nil:
		cr := csv.NewReader(rf)
		cr.FieldsPerRecord = -1
		if h, err := cr.Read(); err == nil {
			hasHeader = true
			header = h
			promptCol = promptColumn(h)
			for {
				if _, err := cr.Read(); err != nil {
					break
				}
				n++
			}
		}
		if st, err := rf.Stat(); err == nil && st.Size() > 0 {
			buf := make([]byte, 1)
			if _, err := rf.ReadAt(buf, st.Size()-1); err == nil && buf[0] != '\n' {
				needsNL = true
			}
		}
		rf.Close()
	case errors.Is(err, fs.ErrNotExist):
		// new file
	default:
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	if hasHeader && promptCol == -1 {
		return nil, fmt.Errorf("catalog: %s: %w", path, ErrNoPromptColumn)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("catalog: append %s: %w", path, err)
	}
	if needsNL {
		if _, err := f.WriteString("\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("catalog: append %s: %w", path, err)
		}
	}

	a := &Appender{f: f, w: csv.NewWriter(f), header: header, promptCol: promptCol, n: n}
	if !hasHeader {
		if err := a.writeRow(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("catalog: write header: %w", err)
		}
	}
	return a, nil
}

// Append writes one payload row and returns its position.
func (a *Appender) Append(payload string) (int, error) {
	row := make([]string, len(a.header))
	row[a.promptCol] = payload
	if err := a.writeRow(row); err != nil {
		return 0, fmt.Errorf("catalog: append row: %w", err)
	}
	pos := a.n
	a.n++
	return pos, nil
}

func (a *Appender) writeRow(row []string) error {
	if err := a.w.Write(row); err != nil {
		return err
	}
	a.w.Flush()
	return a.w.Error()
}

// Len returns the number of data rows currently in the file.
func (a *Appender) Len() int {
	return a.n
}

// Close closes the underlying file.
func (a *Appender) Close() error {
	return a.f.Close()
}
