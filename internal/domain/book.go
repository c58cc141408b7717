package domain

// Metadata field names for a stored book record.
// They mirror the OpenLibrary works dump fields the ingester extracts.
const (
	FieldTitle       = "title"
	FieldAuthors     = "authors"
	FieldSubjects    = "subjects"
	FieldPublishYear = "first_publish_year"
	FieldLanguages   = "languages"
)

// SearchResult is a single similarity hit. Result lists are ordered by
// ascending Distance; there is no secondary sort key.
type SearchResult struct {
	ID       string            `json:"id"`
	Distance float64           `json:"distance"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Title returns the book title from metadata ("" when absent).
func (r SearchResult) Title() string { return r.Metadata[FieldTitle] }

// Authors returns the comma-separated author list from metadata.
func (r SearchResult) Authors() string { return r.Metadata[FieldAuthors] }

// BookRecord is one book prepared for indexing: the text that was embedded,
// its vector, and flattened metadata stored alongside.
type BookRecord struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]string
}
