package database

// Opportunity is one stored procurement notice, keyed by IdentityKey.
type Opportunity struct {
	ID            int64   `json:"id"`
	IdentityKey   string  `json:"identity_key"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	URL           string  `json:"url"`
	Agency        string  `json:"agency"`
	Category      string  `json:"category"`
	Source        string  `json:"source"`
	CommodityCode string  `json:"commodity_code,omitempty"`
	Summary       string  `json:"summary"`
	Rationale     string  `json:"rationale,omitempty"`
	Score         float64 `json:"score"`
	RuleScore     float64 `json:"rule_score"`
	ExternalScore float64 `json:"external_score"`
	PostedDate    string  `json:"posted_date"`
	DueDate       string  `json:"due_date"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// Query filters ListOpportunities and CountOpportunities.
type Query struct {
	// Search is a case-insensitive substring of title, description, agency
	// or summary.
	Search string
	// OpenOnly keeps rows with no due date or a due date on or after Today.
	OpenOnly bool
	Today    string
	Limit    int
	Offset   int
}

// Run records one ingestion run.
type Run struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Fetched    int    `json:"fetched"`
	Kept       int    `json:"kept"`
	Ingested   int    `json:"ingested"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	ErrorCount int    `json:"error_count"`
	Message    string `json:"message"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	Total   int  `json:"total"`
	Open    int  `json:"open"`
	Runs    int  `json:"runs"`
	LastRun *Run `json:"last_run,omitempty"`
}
