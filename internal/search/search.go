package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultEvent    ResultType = "event"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId,omitempty"`
	UserID     string     `json:"userId,omitempty"`
}

// Query describes a search request over the audit surface.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterUserID string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	IndexEvent(event EventRecord) error
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	OwnerID string `json:"ownerId"`
	Status  string `json:"status"`
}

// EventRecord is the data we index for a score log entry.
type EventRecord struct {
	ID         string `json:"id"`
	Reason     string `json:"reason"`
	EventType  string `json:"eventType"`
	UserID     string `json:"userId"`
	DocumentID string `json:"documentId"`
}
