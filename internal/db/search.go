package db

// KNNQuery is the input for vector similarity search.
// Filter holds exact-match TAG predicates applied before the KNN step.
type KNNQuery struct {
	IndexName    string
	Vector       []float32
	K            int
	Filter       map[string]string
	ReturnFields []string
}

// TagQuery is the input for an exact tag-match lookup.
type TagQuery struct {
	IndexName    string
	Field        string
	Value        string
	Limit        int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single record hit. Distance is the raw vector distance
// for KNN queries and zero for tag lookups.
type SearchEntry struct {
	Key      string
	Distance float64
	Fields   map[string]string
}
