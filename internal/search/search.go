package search

import "context"

// Result is a single search hit returned to the caller. Query bodies are
// summarized into a snippet; full content requires fetching the query.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	TeamID   string `json:"teamId"`
	FolderID string `json:"folderId"`
	Status   string `json:"status"`
}

// Query describes a search request. TeamID is mandatory: search never
// crosses team boundaries.
type Query struct {
	Text         string
	TeamID       string
	FilterStatus string
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
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// QueryRecord is the data indexed per query. The SQL body is indexed so
// searches match table and column names, but never returned in results.
type QueryRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	SQL         string `json:"sql"`
	TeamID      string `json:"teamId"`
	FolderID    string `json:"folderId"`
	Status      string `json:"status"`
}
