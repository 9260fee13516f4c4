package fusion

// Source identifies where a snippet came from.
type Source string

const (
	SourceHistory Source = "history"
	SourcePrivate Source = "private"
	SourceShared  Source = "shared"
)

// priority orders sources for tie-breaking: history beats private beats shared.
func (s Source) priority() int {
	switch s {
	case SourceHistory:
		return 0
	case SourcePrivate:
		return 1
	default:
		return 2
	}
}

// Snippet is one candidate piece of context. Immutable once retrieved.
type Snippet struct {
	Source   Source  `json:"source"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	OriginID string  `json:"origin_id"`
}

// ContextBlock is the assembled context for one turn. Built fresh per turn,
// never persisted. TokenEstimate never exceeds the configured budget.
type ContextBlock struct {
	History       []Snippet `json:"history"`
	Private       []Snippet `json:"private"`
	Shared        []Snippet `json:"shared"`
	TokenEstimate int       `json:"token_estimate"`
}

// Empty reports whether no snippet survived selection.
func (b ContextBlock) Empty() bool {
	return len(b.History) == 0 && len(b.Private) == 0 && len(b.Shared) == 0
}

// EstimateTokens approximates token count at four characters per token,
// rounded up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
