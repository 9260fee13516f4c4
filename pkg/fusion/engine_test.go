package fusion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mira/pkg/history"
	"github.com/harun/mira/pkg/memory"
)

type fakeHistory struct {
	entries []history.Entry
	err     error
}

func (f *fakeHistory) Tail(ctx context.Context, sessionID string, n int) ([]history.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if n > 0 && len(f.entries) > n {
		return f.entries[len(f.entries)-n:], nil
	}
	return f.entries, nil
}

type fakeProvider struct {
	snippets []memory.Snippet
	err      error
	lastQ    memory.Query
}

func (f *fakeProvider) Recall(ctx context.Context, q memory.Query) ([]memory.Snippet, error) {
	f.lastQ = q
	if f.err != nil {
		return nil, f.err
	}
	return f.snippets, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func newTestEngine(h HistoryReader, private, shared memory.Provider, cfg Config) *Engine {
	return NewEngine(h, private, shared, cfg, testLogger())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestBuildContext_EmptySources(t *testing.T) {
	e := newTestEngine(&fakeHistory{}, &fakeProvider{}, &fakeProvider{}, DefaultConfig())

	block, err := e.BuildContext(context.Background(), "sess-1", "alice", "hello")
	require.NoError(t, err)
	assert.True(t, block.Empty())
	assert.Equal(t, 0, block.TokenEstimate)
}

func TestBuildContext_MergesAllSources(t *testing.T) {
	h := &fakeHistory{entries: []history.Entry{
		{TurnID: "t1", Role: "user", Content: "What database do we use?"},
		{TurnID: "t1", Role: "assistant", Content: "Postgres, with a sqlite cache."},
	}}
	private := &fakeProvider{snippets: []memory.Snippet{
		{ID: "p1", Text: "Alice prefers concise answers.", Score: 0.9},
	}}
	shared := &fakeProvider{snippets: []memory.Snippet{
		{ID: "s1", Text: "Deploys happen on Tuesdays.", Score: 0.8},
	}}

	e := newTestEngine(h, private, shared, DefaultConfig())
	block, err := e.BuildContext(context.Background(), "sess-1", "alice", "when do we deploy?")
	require.NoError(t, err)

	assert.Len(t, block.History, 2)
	assert.Len(t, block.Private, 1)
	assert.Len(t, block.Shared, 1)
	assert.Greater(t, block.TokenEstimate, 0)

	// History keeps reading order.
	assert.Contains(t, block.History[0].Content, "What database")
	assert.Contains(t, block.History[1].Content, "Postgres")
}

func TestBuildContext_ProviderQueryShape(t *testing.T) {
	private := &fakeProvider{}
	cfg := DefaultConfig()
	cfg.ProviderLimit = 7
	cfg.ProviderMinScore = 0.5

	e := newTestEngine(&fakeHistory{}, private, nil, cfg)
	_, err := e.BuildContext(context.Background(), "sess-1", "alice", "query text")
	require.NoError(t, err)

	assert.Equal(t, "alice", private.lastQ.OwnerID)
	assert.Equal(t, "query text", private.lastQ.Text)
	assert.Equal(t, 7, private.lastQ.Limit)
	assert.Equal(t, 0.5, private.lastQ.MinScore)
}

func TestBuildContext_BudgetNeverExceeded(t *testing.T) {
	long := strings.Repeat("context paragraph with plenty of filler text. ", 50)

	var entries []history.Entry
	for i := 0; i < 30; i++ {
		entries = append(entries, history.Entry{Role: "user", Content: long})
	}
	var snippets []memory.Snippet
	for i := 0; i < 30; i++ {
		snippets = append(snippets, memory.Snippet{
			ID:    fmt.Sprintf("m%d", i),
			Text:  long,
			Score: 0.9 - float64(i)*0.01,
		})
	}

	cfg := DefaultConfig()
	cfg.TokenBudget = 512

	e := newTestEngine(
		&fakeHistory{entries: entries},
		&fakeProvider{snippets: snippets},
		&fakeProvider{snippets: snippets},
		cfg,
	)

	block, err := e.BuildContext(context.Background(), "sess-1", "alice", "anything")
	require.NoError(t, err)
	assert.LessOrEqual(t, block.TokenEstimate, cfg.TokenBudget)
	assert.False(t, block.Empty())

	// Recompute from the snippets themselves.
	total := 0
	for _, s := range append(append(block.History, block.Private...), block.Shared...) {
		total += EstimateTokens(s.Content)
	}
	assert.LessOrEqual(t, total, cfg.TokenBudget)
}

func TestBuildContext_HistoryBiasWins(t *testing.T) {
	// One history entry and one memory snippet with a slightly higher raw
	// score; the bias should rank history first under a tiny budget.
	h := &fakeHistory{entries: []history.Entry{
		{Role: "assistant", Content: strings.Repeat("history entry text ", 10)},
	}}
	private := &fakeProvider{snippets: []memory.Snippet{
		{ID: "p1", Text: strings.Repeat("memory snippet text ", 10), Score: 1.0},
	}}

	cfg := DefaultConfig()
	cfg.TokenBudget = EstimateTokens("assistant: " + strings.Repeat("history entry text ", 10))

	e := newTestEngine(h, private, nil, cfg)
	block, err := e.BuildContext(context.Background(), "sess-1", "alice", "q")
	require.NoError(t, err)

	assert.Len(t, block.History, 1)
	assert.Empty(t, block.Private)
}

func TestBuildContext_TieBreakSourcePriority(t *testing.T) {
	private := &fakeProvider{snippets: []memory.Snippet{
		{ID: "p1", Text: strings.Repeat("private snippet ", 16), Score: 0.9},
	}}
	shared := &fakeProvider{snippets: []memory.Snippet{
		{ID: "s1", Text: strings.Repeat("shared snippet! ", 16), Score: 0.9},
	}}

	cfg := DefaultConfig()
	cfg.TokenBudget = EstimateTokens(strings.Repeat("private snippet ", 16))
	cfg.MinSnippetChars = 10000 // force drop instead of truncation

	e := newTestEngine(&fakeHistory{}, private, shared, cfg)
	block, err := e.BuildContext(context.Background(), "sess-1", "alice", "q")
	require.NoError(t, err)

	assert.Len(t, block.Private, 1)
	assert.Empty(t, block.Shared)
}

func TestBuildContext_TruncatesPartialFit(t *testing.T) {
	text := strings.Repeat("abcd", 200) // 200 tokens
	private := &fakeProvider{snippets: []memory.Snippet{
		{ID: "p1", Text: text, Score: 0.9},
	}}

	cfg := DefaultConfig()
	cfg.TokenBudget = 100
	cfg.MinSnippetChars = 48

	e := newTestEngine(&fakeHistory{}, private, nil, cfg)
	block, err := e.BuildContext(context.Background(), "sess-1", "alice", "q")
	require.NoError(t, err)

	require.Len(t, block.Private, 1)
	assert.Len(t, block.Private[0].Content, 400)
	assert.Equal(t, 100, block.TokenEstimate)
}

func TestBuildContext_DropsTinyTruncation(t *testing.T) {
	filler := strings.Repeat("abcd", 99) // 99 tokens
	big := strings.Repeat("wxyz", 200)
	private := &fakeProvider{snippets: []memory.Snippet{
		{ID: "p1", Text: filler, Score: 0.9},
		{ID: "p2", Text: big, Score: 0.8},
	}}

	cfg := DefaultConfig()
	cfg.TokenBudget = 100 // one token of room left after filler
	cfg.MinSnippetChars = 48

	e := newTestEngine(&fakeHistory{}, private, nil, cfg)
	block, err := e.BuildContext(context.Background(), "sess-1", "alice", "q")
	require.NoError(t, err)

	require.Len(t, block.Private, 1)
	assert.Equal(t, filler, block.Private[0].Content)
	assert.Equal(t, 99, block.TokenEstimate)
}

func TestBuildContext_DegradedProviderOmitted(t *testing.T) {
	private := &fakeProvider{err: errors.New("index locked")}
	shared := &fakeProvider{snippets: []memory.Snippet{
		{ID: "s1", Text: "shared fact", Score: 0.9},
	}}

	e := newTestEngine(&fakeHistory{}, private, shared, DefaultConfig())
	block, err := e.BuildContext(context.Background(), "sess-1", "alice", "q")
	require.NoError(t, err)

	assert.Empty(t, block.Private)
	assert.Len(t, block.Shared, 1)
}

func TestBuildContext_HistoryUnavailablePolicies(t *testing.T) {
	h := &fakeHistory{err: errors.New("disk gone")}

	proceedCfg := DefaultConfig()
	proceedCfg.HistoryUnavailable = "proceed"
	e := newTestEngine(h, nil, nil, proceedCfg)
	block, err := e.BuildContext(context.Background(), "sess-1", "alice", "q")
	require.NoError(t, err)
	assert.True(t, block.Empty())

	failCfg := DefaultConfig()
	failCfg.HistoryUnavailable = "fail"
	e = newTestEngine(h, nil, nil, failCfg)
	_, err = e.BuildContext(context.Background(), "sess-1", "alice", "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHistoryUnavailable))
}

func TestBuildContext_HistoryShareCapsCandidates(t *testing.T) {
	// 50 large entries; with a 30% share only the newest few survive.
	entry := strings.Repeat("abcd", 50) // ~50 tokens each
	var entries []history.Entry
	for i := 0; i < 50; i++ {
		entries = append(entries, history.Entry{Role: "user", Content: fmt.Sprintf("%s %d", entry, i)})
	}

	cfg := DefaultConfig()
	cfg.TokenBudget = 1000
	cfg.HistoryShare = 0.3
	cfg.HistoryWindow = 50

	e := newTestEngine(&fakeHistory{entries: entries}, nil, nil, cfg)
	block, err := e.BuildContext(context.Background(), "sess-1", "alice", "q")
	require.NoError(t, err)

	total := 0
	for _, s := range block.History {
		total += EstimateTokens(s.Content)
	}
	assert.LessOrEqual(t, total, 300+60) // share plus one entry of slack
	require.NotEmpty(t, block.History)
	assert.Contains(t, block.History[len(block.History)-1].Content, "49")
}

func TestRender(t *testing.T) {
	block := ContextBlock{
		History: []Snippet{{Source: SourceHistory, Content: "user: hi"}},
		Shared:  []Snippet{{Source: SourceShared, Content: "fact one"}},
	}

	out := block.Render()
	assert.Contains(t, out, "Recent conversation:\n- user: hi")
	assert.Contains(t, out, "Shared memory:\n- fact one")
	assert.NotContains(t, out, "Private memory")

	assert.Empty(t, ContextBlock{}.Render())
}

func TestTruncateBytes_RuneBoundary(t *testing.T) {
	s := "héllo wörld"
	out := truncateBytes(s, 2)
	assert.Equal(t, "h", out)
	assert.Equal(t, s, truncateBytes(s, 100))
}
