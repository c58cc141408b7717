package ingest

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kailas-cloud/librarian/internal/domain"
)

const sampleLine = "/type/work\t/works/OL1W\t5\t2020-01-01T00:00:00\t" +
	`{"key":"/works/OL1W","title":"Dune","description":"A desert planet.",` +
	`"authors":[{"name":"Frank Herbert"}],"subjects":["Science fiction","Politics"],` +
	`"first_publish_year":1965,"languages":[{"key":"/languages/eng"}]}`

func TestReader_ParsesWorkLine(t *testing.T) {
	r := NewReader(strings.NewReader(sampleLine + "\n"))

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.ID != "/works/OL1W" || rec.Title != "Dune" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(rec.Authors) != 1 || rec.Authors[0] != "Frank Herbert" {
		t.Errorf("authors not parsed: %v", rec.Authors)
	}
	if len(rec.Subjects) != 2 {
		t.Errorf("subjects not parsed: %v", rec.Subjects)
	}
	if rec.PublishYear != 1965 {
		t.Errorf("publish year not parsed: %d", rec.PublishYear)
	}
	if len(rec.Languages) != 1 || rec.Languages[0] != "/languages/eng" {
		t.Errorf("languages not parsed: %v", rec.Languages)
	}
	if rec.Description != "A desert planet." {
		t.Errorf("description not parsed: %q", rec.Description)
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReader_DescriptionObjectForm(t *testing.T) {
	line := "/type/work\t/works/OL2W\t1\t2020-01-01\t" +
		`{"key":"/works/OL2W","title":"1984","description":{"type":"/type/text","value":"Big Brother."}}`
	r := NewReader(strings.NewReader(line + "\n"))

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Description != "Big Brother." {
		t.Errorf("typed description not parsed: %q", rec.Description)
	}
}

func TestReader_SkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		"too\tfew\tfields",
		"/type/work\t/works/OL3W\t1\t2020-01-01\tnot-json",
		"/type/work\t/works/OL4W\t1\t2020-01-01\t{\"key\":\"/works/OL4W\"}", // no title
		sampleLine,
	}, "\n")
	r := NewReader(strings.NewReader(input))

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.ID != "/works/OL1W" {
		t.Fatalf("expected the one valid record, got %+v", rec)
	}
	if r.Skipped() != 3 {
		t.Errorf("expected 3 skipped lines, got %d", r.Skipped())
	}
}

func TestToBook_FlattensMetadata(t *testing.T) {
	rec := Record{
		ID:          "/works/OL1W",
		Title:       "Dune",
		Authors:     []string{"Frank Herbert", "Someone Else"},
		Subjects:    []string{"Science fiction"},
		PublishYear: 1965,
		Languages:   []string{"/languages/eng"},
		Description: "A desert planet.",
	}

	book := rec.ToBook(0)
	if book.ID != "/works/OL1W" {
		t.Errorf("unexpected id %q", book.ID)
	}
	if book.Text != "Dune . A desert planet." {
		t.Errorf("unexpected text %q", book.Text)
	}
	if book.Metadata[domain.FieldAuthors] != "Frank Herbert, Someone Else" {
		t.Errorf("authors not flattened: %q", book.Metadata[domain.FieldAuthors])
	}
	if book.Metadata[domain.FieldPublishYear] != "1965" {
		t.Errorf("year not stringified: %q", book.Metadata[domain.FieldPublishYear])
	}
}

func TestToBook_TruncatesDescription(t *testing.T) {
	rec := Record{ID: "x", Title: "T", Description: strings.Repeat("d", 100)}

	book := rec.ToBook(10)
	if want := "T . " + strings.Repeat("d", 10); book.Text != want {
		t.Errorf("expected truncated text %q, got %q", want, book.Text)
	}
}

func TestToBook_NoYearOmitsField(t *testing.T) {
	rec := Record{ID: "x", Title: "T"}

	book := rec.ToBook(0)
	if _, ok := book.Metadata[domain.FieldPublishYear]; ok {
		t.Error("zero publish year should be omitted")
	}
}
