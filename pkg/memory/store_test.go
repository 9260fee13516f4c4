package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) (*Store, string, string) {
	base := t.TempDir()
	sharedDir := filepath.Join(base, "shared")
	privateDir := filepath.Join(base, "private")

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	s, err := NewStore(StoreConfig{
		SharedDir:         sharedDir,
		PrivateDir:        privateDir,
		DBPath:            filepath.Join(base, "notes.db"),
		Logger:            logger,
		EmbeddingProvider: NewMockEmbeddingProvider(64),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, sharedDir, privateDir
}

func writeNote(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
}

func TestNewStore_InvalidConfig(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	tests := []struct {
		name   string
		config StoreConfig
	}{
		{
			name: "missing note dirs",
			config: StoreConfig{
				DBPath: "/tmp/notes.db",
				Logger: logger,
			},
		},
		{
			name: "missing db path",
			config: StoreConfig{
				SharedDir:  "/tmp/shared",
				PrivateDir: "/tmp/private",
				Logger:     logger,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.config)
			assert.Error(t, err)
			assert.Nil(t, s)
		})
	}
}

func TestSync_EmptyDirectories(t *testing.T) {
	s, _, _ := createTestStore(t)

	require.NoError(t, s.Sync(context.Background()))

	status := s.Status()
	assert.Equal(t, 0, status.TotalNotes)
	assert.Equal(t, 0, status.TotalChunks)
	assert.False(t, status.IsDirty)
}

func TestSync_IndexesBothScopes(t *testing.T) {
	s, sharedDir, privateDir := createTestStore(t)

	writeNote(t, sharedDir, "team.md", "# Team conventions\n\nAll deploys go through staging first.")
	writeNote(t, filepath.Join(privateDir, "alice"), "prefs.md", "# Preferences\n\nAlice prefers terse answers.")

	require.NoError(t, s.Sync(context.Background()))

	status := s.Status()
	assert.Equal(t, 2, status.TotalNotes)
	assert.Greater(t, status.TotalChunks, 0)
}

func TestSync_SkipsUnchangedNotes(t *testing.T) {
	s, sharedDir, _ := createTestStore(t)

	writeNote(t, sharedDir, "a.md", "# Note\n\nSome stable content here.")

	require.NoError(t, s.Sync(context.Background()))
	first := s.Status()

	s.MarkDirty()
	require.NoError(t, s.Sync(context.Background()))
	second := s.Status()

	assert.Equal(t, first.TotalChunks, second.TotalChunks)
}

func TestSync_PrunesDeletedNotes(t *testing.T) {
	s, sharedDir, _ := createTestStore(t)

	writeNote(t, sharedDir, "gone.md", "# Ephemeral\n\nThis note will be deleted.")
	require.NoError(t, s.Sync(context.Background()))
	require.Equal(t, 1, s.Status().TotalNotes)

	require.NoError(t, os.Remove(filepath.Join(sharedDir, "gone.md")))
	s.MarkDirty()
	require.NoError(t, s.Sync(context.Background()))

	assert.Equal(t, 0, s.Status().TotalNotes)
}

func TestSync_ReindexesEditedNote(t *testing.T) {
	s, sharedDir, _ := createTestStore(t)

	writeNote(t, sharedDir, "fruit.md", "# Fruit\n\nThe banana shipment arrives Monday.")
	require.NoError(t, s.Sync(context.Background()))

	writeNote(t, sharedDir, "fruit.md", "# Fruit\n\nThe mango shipment arrives Monday.")
	s.MarkDirty()
	require.NoError(t, s.Sync(context.Background()))

	snippets, err := s.Recall(context.Background(), Query{
		OwnerID: "alice",
		Text:    "mango",
		Limit:   5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, snippets)
	assert.Contains(t, snippets[0].Text, "mango")

	stale, err := s.Recall(context.Background(), Query{
		OwnerID: "alice",
		Text:    "banana",
		Limit:   5,
	})
	require.NoError(t, err)
	for _, sn := range stale {
		assert.NotContains(t, sn.Text, "banana")
	}
}

func TestRecall_KeywordMatch(t *testing.T) {
	s, sharedDir, _ := createTestStore(t)

	writeNote(t, sharedDir, "deploy.md", "# Deploys\n\nProduction deploys happen on Tuesdays after review.")
	writeNote(t, sharedDir, "lunch.md", "# Lunch\n\nThe team gets lunch together on Fridays.")

	snippets, err := s.Recall(context.Background(), Query{
		OwnerID: "alice",
		Text:    "deploys",
		Limit:   5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, snippets)
	assert.Contains(t, snippets[0].Text, "deploys")
	assert.Equal(t, ScopeShared, snippets[0].Scope)
}

func TestRecall_PrivateScopeIsolation(t *testing.T) {
	s, _, privateDir := createTestStore(t)

	writeNote(t, filepath.Join(privateDir, "alice"), "secret.md", "# Project Aurora\n\nAurora launches in October.")
	writeNote(t, filepath.Join(privateDir, "bob"), "secret.md", "# Project Aurora\n\nBob thinks aurora is late.")

	aliceSnippets, err := s.Recall(context.Background(), Query{
		OwnerID: "alice",
		Text:    "aurora",
		Limit:   10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, aliceSnippets)
	for _, sn := range aliceSnippets {
		assert.Equal(t, ScopePrivate, sn.Scope)
		assert.NotContains(t, sn.Text, "Bob thinks")
	}

	carolSnippets, err := s.Recall(context.Background(), Query{
		OwnerID: "carol",
		Text:    "aurora",
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Empty(t, carolSnippets)
}

func TestRecall_ScopedProvider(t *testing.T) {
	s, sharedDir, privateDir := createTestStore(t)

	writeNote(t, sharedDir, "zephyr.md", "# Zephyr\n\nZephyr is the shared build cluster.")
	writeNote(t, filepath.Join(privateDir, "alice"), "zephyr.md", "# Zephyr\n\nAlice owns zephyr maintenance windows.")

	shared := Scoped(s, ScopeShared)
	snippets, err := shared.Recall(context.Background(), Query{
		OwnerID: "alice",
		Text:    "zephyr",
		Limit:   10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, snippets)
	for _, sn := range snippets {
		assert.Equal(t, ScopeShared, sn.Scope)
	}

	private := Scoped(s, ScopePrivate)
	snippets, err = private.Recall(context.Background(), Query{
		OwnerID: "alice",
		Text:    "zephyr",
		Limit:   10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, snippets)
	for _, sn := range snippets {
		assert.Equal(t, ScopePrivate, sn.Scope)
	}
}

func TestRecall_EmptyQuery(t *testing.T) {
	s, _, _ := createTestStore(t)

	snippets, err := s.Recall(context.Background(), Query{OwnerID: "alice", Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, snippets)
}

func TestRecall_RespectsLimit(t *testing.T) {
	s, sharedDir, _ := createTestStore(t)

	for _, name := range []string{"a.md", "b.md", "c.md", "d.md"} {
		writeNote(t, sharedDir, name, "# Kafka\n\nKafka consumers rebalance on membership change. Note "+name)
	}

	snippets, err := s.Recall(context.Background(), Query{
		OwnerID: "alice",
		Text:    "kafka",
		Limit:   2,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(snippets), 2)
}

func TestRemember_AndRecall(t *testing.T) {
	s, _, _ := createTestStore(t)

	path, err := s.Remember(ScopePrivate, "alice", "# Timezone\n\nAlice works from UTC+2.")
	require.NoError(t, err)
	assert.FileExists(t, path)

	snippets, err := s.Recall(context.Background(), Query{
		OwnerID: "alice",
		Text:    "timezone",
		Limit:   5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, snippets)
	assert.Contains(t, snippets[0].Text, "UTC+2")
}

func TestRemember_Validation(t *testing.T) {
	s, _, _ := createTestStore(t)

	_, err := s.Remember(ScopePrivate, "", "text")
	assert.Error(t, err)

	_, err = s.Remember(ScopePrivate, "../escape", "text")
	assert.Error(t, err)

	_, err = s.Remember(ScopeShared, "", "   ")
	assert.Error(t, err)

	_, err = s.Remember(Scope("bogus"), "alice", "text")
	assert.Error(t, err)
}

func TestForget(t *testing.T) {
	s, _, _ := createTestStore(t)

	path, err := s.Remember(ScopeShared, "", "# Obsolete\n\nOld fact.")
	require.NoError(t, err)

	require.NoError(t, s.Forget(path))
	assert.NoFileExists(t, path)

	assert.Error(t, s.Forget("/etc/passwd"))
}

func TestChunkContent_LongNote(t *testing.T) {
	s, _, _ := createTestStore(t)

	var sb string
	for i := 0; i < 100; i++ {
		sb += "This line pads the note out to force multiple chunks of content.\n"
	}

	chunks := s.chunkContent(sb)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.NotEmpty(t, c.content)
	}
}

func TestChunkContent_ShortNote(t *testing.T) {
	s, _, _ := createTestStore(t)

	chunks := s.chunkContent("just one small note")
	require.Len(t, chunks, 1)
	assert.Equal(t, "just one small note", chunks[0].content)
}
