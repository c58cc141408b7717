package ingest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Record is one normalized work from the OpenLibrary dump.
type Record struct {
	ID          string
	Title       string
	Authors     []string
	Subjects    []string
	PublishYear int
	Languages   []string
	Description string
}

// workJSON mirrors the dump's JSON payload. Description is either a plain
// string or a {"type","value"} object.
type workJSON struct {
	Key         string          `json:"key"`
	Title       string          `json:"title"`
	Description json.RawMessage `json:"description"`
	Authors     []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Subjects         []string `json:"subjects"`
	FirstPublishYear int      `json:"first_publish_year"`
	Languages        []struct {
		Key string `json:"key"`
	} `json:"languages"`
}

// Reader streams normalized records out of an OpenLibrary works dump.
// Lines are tab-separated with the JSON payload in the fifth field;
// malformed lines are counted and skipped.
type Reader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	skipped int
}

// Open opens a dump file, transparently decompressing .gz.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip dump: %w", err)
		}
		src = gz
	}

	sc := bufio.NewScanner(src)
	// Work descriptions can make lines run long.
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scanner: sc, closer: f}, nil
}

// NewReader wraps an arbitrary stream. Used by tests.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scanner: sc}
}

// Next returns the next valid record, io.EOF when the dump is exhausted.
func (r *Reader) Next() (Record, error) {
	for r.scanner.Scan() {
		rec, ok := parseLine(r.scanner.Text())
		if !ok {
			r.skipped++
			continue
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("read dump: %w", err)
	}
	return Record{}, io.EOF
}

// Skipped reports how many malformed lines were dropped so far.
func (r *Reader) Skipped() int { return r.skipped }

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func parseLine(line string) (Record, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), "\t", 5)
	if len(parts) < 5 {
		return Record{}, false
	}

	var w workJSON
	if err := json.Unmarshal([]byte(parts[4]), &w); err != nil {
		return Record{}, false
	}
	if w.Key == "" || w.Title == "" {
		return Record{}, false
	}

	rec := Record{
		ID:          w.Key,
		Title:       w.Title,
		Subjects:    w.Subjects,
		PublishYear: w.FirstPublishYear,
		Description: parseDescription(w.Description),
	}
	for _, a := range w.Authors {
		if a.Name != "" {
			rec.Authors = append(rec.Authors, a.Name)
		}
	}
	for _, l := range w.Languages {
		if l.Key != "" {
			rec.Languages = append(rec.Languages, l.Key)
		}
	}
	return rec, true
}

// parseDescription accepts both the plain-string and the typed-object form.
func parseDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Value string `json:"value"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Value
	}
	return ""
}

// ToBook turns a record into the indexable form: the embeddable text plus
// flattened metadata. maxDescChars truncates the description before
// embedding. List fields become comma-separated strings; empty fields are
// dropped at the storage layer.
func (rec Record) ToBook(maxDescChars int) domain.BookRecord {
	desc := rec.Description
	if maxDescChars > 0 {
		if r := []rune(desc); len(r) > maxDescChars {
			desc = string(r[:maxDescChars])
		}
	}

	meta := map[string]string{
		domain.FieldTitle:     rec.Title,
		domain.FieldAuthors:   strings.Join(rec.Authors, ", "),
		domain.FieldSubjects:  strings.Join(rec.Subjects, ", "),
		domain.FieldLanguages: strings.Join(rec.Languages, ", "),
	}
	if rec.PublishYear > 0 {
		meta[domain.FieldPublishYear] = strconv.Itoa(rec.PublishYear)
	}

	return domain.BookRecord{
		ID:       rec.ID,
		Text:     rec.Title + " . " + desc,
		Metadata: meta,
	}
}
