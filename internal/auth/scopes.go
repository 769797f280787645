package auth

// Scopes understood by the read API.
const (
	ScopeSummariesRead    = "summaries:read"
	ScopeProjectionsWrite = "projections:write"
)
