// Package memory indexes durable notes and recalls the ones relevant to a
// conversation turn. Notes live as markdown files in two scopes: a shared
// corpus visible to every session and per-owner private corpora. Recall is
// hybrid: vector similarity over sqlite-vec plus FTS5 keyword match.
package memory

import "context"

// Scope identifies which corpus a note belongs to.
type Scope string

const (
	ScopeShared  Scope = "shared"
	ScopePrivate Scope = "private"
)

// Snippet is one recalled piece of memory with its relevance score.
type Snippet struct {
	ID           string   `json:"id"`
	Scope        Scope    `json:"scope"`
	NotePath     string   `json:"note_path"`
	Text         string   `json:"text"`
	Score        float64  `json:"score"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
}

// Query describes a recall request.
type Query struct {
	OwnerID  string  `json:"owner_id"`
	Text     string  `json:"text"`
	Limit    int     `json:"limit"`
	MinScore float64 `json:"min_score"`
	// Scope restricts recall to one corpus. Empty searches both.
	Scope Scope `json:"scope,omitempty"`
}

// Provider recalls snippets relevant to a query. Implementations must return
// snippets ordered by descending score and must never return private
// snippets belonging to a different owner.
type Provider interface {
	Recall(ctx context.Context, q Query) ([]Snippet, error)
}

// scopedProvider pins every query to one scope.
type scopedProvider struct {
	inner Provider
	scope Scope
}

func (p scopedProvider) Recall(ctx context.Context, q Query) ([]Snippet, error) {
	q.Scope = p.scope
	return p.inner.Recall(ctx, q)
}

// Scoped returns a view of p restricted to one corpus.
func Scoped(p Provider, scope Scope) Provider {
	return scopedProvider{inner: p, scope: scope}
}
