package fusion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/harun/mira/internal/observability"
	"github.com/harun/mira/internal/tracing"
	"github.com/harun/mira/pkg/history"
	"github.com/harun/mira/pkg/memory"
)

// ErrHistoryUnavailable is returned when the history store cannot be read
// and the configured policy is to fail the turn.
var ErrHistoryUnavailable = errors.New("history store unavailable")

// HistoryReader is the slice of the history store the engine needs.
type HistoryReader interface {
	Tail(ctx context.Context, sessionID string, n int) ([]history.Entry, error)
}

// Config tunes context assembly.
type Config struct {
	// TokenBudget caps the estimated token count of the assembled block.
	TokenBudget int
	// HistoryShare is the fraction of the budget reserved for filling from
	// recent history before memory snippets compete.
	HistoryShare float64
	// HistoryBias is added to every history snippet's score so short-term
	// coherence outranks raw relevance.
	HistoryBias float64
	// MinSnippetChars is the smallest useful truncated snippet; anything
	// shorter is dropped instead.
	MinSnippetChars int
	// HistoryWindow caps how many transcript entries are considered.
	HistoryWindow int
	// ProviderLimit and ProviderMinScore shape memory provider queries.
	ProviderLimit    int
	ProviderMinScore float64
	// HistoryUnavailable selects the policy when the history store cannot
	// be read: "proceed" builds context without history, "fail" aborts.
	HistoryUnavailable string
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		TokenBudget:        2048,
		HistoryShare:       0.3,
		HistoryBias:        0.2,
		MinSnippetChars:    48,
		HistoryWindow:      20,
		ProviderLimit:      10,
		ProviderMinScore:   0.35,
		HistoryUnavailable: "proceed",
	}
}

// Engine assembles a bounded ContextBlock from recent history and the two
// memory providers. Providers may be nil; a failing provider only costs its
// own snippets.
type Engine struct {
	history HistoryReader
	private memory.Provider
	shared  memory.Provider
	cfg     Config
	logger  zerolog.Logger
}

// NewEngine creates a fusion engine
func NewEngine(historyStore HistoryReader, private, shared memory.Provider, cfg Config, logger zerolog.Logger) *Engine {
	observability.EnsureRegistered()

	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultConfig().TokenBudget
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultConfig().HistoryWindow
	}
	if cfg.ProviderLimit <= 0 {
		cfg.ProviderLimit = DefaultConfig().ProviderLimit
	}

	return &Engine{
		history: historyStore,
		private: private,
		shared:  shared,
		cfg:     cfg,
		logger:  logger,
	}
}

type candidate struct {
	Snippet
	order int
}

// BuildContext gathers, ranks, and budget-trims context for one turn.
func (e *Engine) BuildContext(ctx context.Context, sessionID, ownerID, input string) (ContextBlock, error) {
	logger := tracing.LoggerFromContext(ctx, e.logger)
	start := time.Now()

	var candidates []candidate

	historySnippets, err := e.historyCandidates(ctx, sessionID)
	if err != nil {
		if e.cfg.HistoryUnavailable == "fail" {
			return ContextBlock{}, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
		}
		logger.Warn().Err(err).Msg("History unavailable, proceeding without it")
		observability.RecordProviderError(string(SourceHistory))
	}
	for _, s := range historySnippets {
		candidates = append(candidates, candidate{Snippet: s, order: len(candidates)})
	}

	for _, leg := range []struct {
		provider memory.Provider
		source   Source
	}{
		{e.private, SourcePrivate},
		{e.shared, SourceShared},
	} {
		if leg.provider == nil {
			continue
		}
		snippets, err := leg.provider.Recall(ctx, memory.Query{
			OwnerID:  ownerID,
			Text:     input,
			Limit:    e.cfg.ProviderLimit,
			MinScore: e.cfg.ProviderMinScore,
		})
		if err != nil {
			// Degraded provider: omit its snippets, never fail the turn.
			logger.Warn().Err(err).Str("source", string(leg.source)).Msg("Memory provider degraded")
			observability.RecordProviderError(string(leg.source))
			continue
		}
		for _, sn := range snippets {
			candidates = append(candidates, candidate{
				Snippet: Snippet{
					Source:   leg.source,
					Content:  sn.Text,
					Score:    sn.Score,
					OriginID: sn.ID,
				},
				order: len(candidates),
			})
		}
	}

	block := e.selectWithinBudget(candidates)

	observability.RecordFusion(time.Since(start), block.TokenEstimate)

	logger.Debug().
		Int("history", len(block.History)).
		Int("private", len(block.Private)).
		Int("shared", len(block.Shared)).
		Int("token_estimate", block.TokenEstimate).
		Msg("Context assembled")

	return block, nil
}

// historyCandidates loads the transcript tail and turns it into scored
// snippets. Newer entries score higher, and all carry the history bias.
// The set is pre-trimmed to the history token share so history cannot
// crowd out memory before ranking even starts.
func (e *Engine) historyCandidates(ctx context.Context, sessionID string) ([]Snippet, error) {
	if e.history == nil {
		return nil, nil
	}

	entries, err := e.history.Tail(ctx, sessionID, e.cfg.HistoryWindow)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	historyBudget := int(float64(e.cfg.TokenBudget) * e.cfg.HistoryShare)
	if historyBudget <= 0 {
		historyBudget = e.cfg.TokenBudget
	}

	// Walk newest-first until the share is spent.
	kept := 0
	used := 0
	for i := len(entries) - 1; i >= 0; i-- {
		cost := EstimateTokens(entries[i].Role + ": " + entries[i].Content)
		if used+cost > historyBudget && kept > 0 {
			break
		}
		used += cost
		kept++
	}

	recent := entries[len(entries)-kept:]
	snippets := make([]Snippet, 0, len(recent))
	for i, entry := range recent {
		recency := float64(i+1) / float64(len(recent))
		snippets = append(snippets, Snippet{
			Source:   SourceHistory,
			Content:  entry.Role + ": " + entry.Content,
			Score:    recency + e.cfg.HistoryBias,
			OriginID: entry.TurnID,
		})
	}

	return snippets, nil
}

// selectWithinBudget ranks candidates and greedily packs them into the
// budget. The first snippet that only partially fits is truncated if the
// remainder is still useful, dropped otherwise, and selection stops there.
func (e *Engine) selectWithinBudget(candidates []candidate) ContextBlock {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Source.priority() != candidates[j].Source.priority() {
			return candidates[i].Source.priority() < candidates[j].Source.priority()
		}
		return candidates[i].order < candidates[j].order
	})

	var block ContextBlock
	remaining := e.cfg.TokenBudget

	appendSnippet := func(s Snippet) {
		switch s.Source {
		case SourceHistory:
			block.History = append(block.History, s)
		case SourcePrivate:
			block.Private = append(block.Private, s)
		default:
			block.Shared = append(block.Shared, s)
		}
	}

	for _, c := range candidates {
		cost := EstimateTokens(c.Content)
		if cost <= remaining {
			appendSnippet(c.Snippet)
			remaining -= cost
			if remaining == 0 {
				break
			}
			continue
		}

		maxChars := remaining * 4
		if maxChars >= e.cfg.MinSnippetChars {
			s := c.Snippet
			s.Content = truncateBytes(s.Content, maxChars)
			appendSnippet(s)
			remaining -= EstimateTokens(s.Content)
		}
		break
	}

	// History was ranked newest-first; flip it back to reading order.
	for i, j := 0, len(block.History)-1; i < j; i, j = i+1, j-1 {
		block.History[i], block.History[j] = block.History[j], block.History[i]
	}

	block.TokenEstimate = e.cfg.TokenBudget - remaining
	return block
}

// truncateBytes cuts s to at most n bytes on a rune boundary.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Render formats a block as prompt text. An empty block renders empty.
func (b ContextBlock) Render() string {
	if b.Empty() {
		return ""
	}

	var sb strings.Builder

	writeSection := func(title string, snippets []Snippet) {
		if len(snippets) == 0 {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(title)
		sb.WriteString(":\n")
		for _, s := range snippets {
			sb.WriteString("- ")
			sb.WriteString(s.Content)
			sb.WriteString("\n")
		}
	}

	writeSection("Recent conversation", b.History)
	writeSection("Private memory", b.Private)
	writeSection("Shared memory", b.Shared)

	return sb.String()
}
