// Package search provides full-text search over pages and blocks, backed by
// Meilisearch with a PostgreSQL fallback.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPage  ResultType = "page"
	ResultBlock ResultType = "block"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	PageID      string     `json:"pageId"`
	WorkspaceID string     `json:"workspaceId"`
}

// Query describes a search request. WorkspaceIDs scopes results to the
// workspaces the caller belongs to.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	WorkspaceIDs []string
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
	IndexPage(p PageRecord) error
	IndexBlock(b BlockRecord) error
	DeletePage(id string) error
	DeleteBlock(id string) error
	DeleteBlocksByPage(pageID string) error
}

// PageRecord is the data we index for a page.
type PageRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Icon        string `json:"icon"`
	WorkspaceID string `json:"workspaceId"`
}

// BlockRecord is the data we index for a block. Text is the flattened plain
// text of the block content.
type BlockRecord struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Type        string `json:"type"`
	PageID      string `json:"pageId"`
	WorkspaceID string `json:"workspaceId"`
}
