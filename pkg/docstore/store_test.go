package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{}, nil)
	require.NoError(t, err)
	return s
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	col := UserCollection("alice")
	assert.Equal(t, "documents_alice", col)

	id, err := s.AddDocument(ctx, col, Document{
		Title:    "Roadmap",
		Content:  "Ship the orchestrator in Q3",
		Type:     "plan",
		UserID:   "alice",
		Metadata: map[string]string{"team": "core"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := s.GetDocument(ctx, col, id)
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", doc.Title)
	assert.Equal(t, "plan", doc.Type)
	assert.Equal(t, "alice", doc.UserID)
	assert.Equal(t, "core", doc.Metadata["team"])
	assert.False(t, doc.CreatedAt.IsZero())

	require.NoError(t, s.UpdateDocument(ctx, col, id, "Ship it in Q4", map[string]string{"title": "Roadmap v2", "status": "draft"}))
	doc, err = s.GetDocument(ctx, col, id)
	require.NoError(t, err)
	assert.Equal(t, "Ship it in Q4", doc.Content)
	assert.Equal(t, "Roadmap v2", doc.Title)
	assert.Equal(t, "draft", doc.Metadata["status"])
	assert.Equal(t, "core", doc.Metadata["team"])

	require.NoError(t, s.DeleteDocument(ctx, col, id))
	_, err = s.GetDocument(ctx, col, id)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.ErrorIs(t, s.DeleteDocument(ctx, col, id), ErrDocumentNotFound)
	assert.ErrorIs(t, s.UpdateDocument(ctx, col, id, "x", nil), ErrDocumentNotFound)
}

func TestStore_UpdateKeepsDocumentWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := s.embed
	s.embed = func(ctx context.Context, text string) ([]float32, error) {
		if text == "FAIL" {
			return nil, errors.New("embedder unavailable")
		}
		return base(ctx, text)
	}

	id, err := s.AddDocument(ctx, "c", Document{Title: "draft", Content: "original body"})
	require.NoError(t, err)

	err = s.UpdateDocument(ctx, "c", id, "FAIL", map[string]string{"title": "renamed"})
	assert.ErrorContains(t, err, "embedder unavailable")

	doc, err := s.GetDocument(ctx, "c", id)
	require.NoError(t, err)
	assert.Equal(t, "original body", doc.Content)
	assert.Equal(t, "draft", doc.Title)

	require.NoError(t, s.UpdateDocument(ctx, "c", id, "second body", nil))
	n, err := s.Count("c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_Search(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	col := "shared"

	empty, err := s.Search(ctx, col, "anything", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	docs := []Document{
		{Title: "cats", Content: "cats purr and chase mice", Type: "note"},
		{Title: "dogs", Content: "dogs bark and fetch sticks", Type: "note"},
		{Title: "tax", Content: "quarterly tax filing deadline", Type: "memo"},
	}
	for _, d := range docs {
		_, err := s.AddDocument(ctx, col, d)
		require.NoError(t, err)
	}

	results, err := s.Search(ctx, col, "why do cats purr", nil, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "cats", results[0].Title)

	all, err := s.Search(ctx, col, "anything", nil, 50)
	require.NoError(t, err)
	assert.Len(t, all, 3, "limit is clamped to the collection size")

	memos, err := s.Search(ctx, col, "deadline", map[string]string{"document_type": "memo"}, 10)
	require.NoError(t, err)
	require.Len(t, memos, 1)
	assert.Equal(t, "tax", memos[0].Title)

	n, err := s.Count(col)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "docs")

	s, err := New(Config{Path: path}, nil)
	require.NoError(t, err)
	id, err := s.AddDocument(ctx, "c", Document{Title: "kept", Content: "survives restart"})
	require.NoError(t, err)

	reopened, err := New(Config{Path: path}, nil)
	require.NoError(t, err)
	doc, err := reopened.GetDocument(ctx, "c", id)
	require.NoError(t, err)
	assert.Equal(t, "kept", doc.Title)
}

func TestHashEmbedding(t *testing.T) {
	embed := HashEmbedding(64)
	a, err := embed(context.Background(), "Hello world")
	require.NoError(t, err)
	b, err := embed(context.Background(), "hello, WORLD!")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	zero, err := embed(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, float32(1), zero[0])
}

func TestNewEmbeddingFunc(t *testing.T) {
	_, err := NewEmbeddingFunc(EmbedderConfig{})
	assert.NoError(t, err)
	_, err = NewEmbeddingFunc(EmbedderConfig{Provider: EmbedderOllama})
	assert.NoError(t, err)
	_, err = NewEmbeddingFunc(EmbedderConfig{Provider: "word2vec"})
	assert.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "")
	_, err = NewEmbeddingFunc(EmbedderConfig{Provider: EmbedderOpenAI})
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("plain text", func(t *testing.T) {
		path := filepath.Join(dir, "notes.md")
		require.NoError(t, os.WriteFile(path, []byte("# Notes\nthree words here"), 0o644))

		out, err := Extract(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "notes.md", out.Title)
		assert.Equal(t, "text", out.Type)
		assert.Contains(t, out.Content, "three words here")
		assert.Equal(t, "5", out.Metadata["word_count"])
	})

	t.Run("spreadsheet", func(t *testing.T) {
		path := filepath.Join(dir, "budget.xlsx")
		f := excelize.NewFile()
		require.NoError(t, f.SetCellValue("Sheet1", "A1", "Item"))
		require.NoError(t, f.SetCellValue("Sheet1", "B1", "Cost"))
		require.NoError(t, f.SetCellValue("Sheet1", "A2", "Laptop"))
		require.NoError(t, f.SaveAs(path))
		require.NoError(t, f.Close())

		out, err := Extract(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "xlsx", out.Type)
		assert.Contains(t, out.Content, "--- Sheet: Sheet1 ---")
		assert.Contains(t, out.Content, "B1: Cost")
		assert.Contains(t, out.Content, "A2: Laptop")
		assert.Equal(t, "1", out.Metadata["sheets"])
	})

	t.Run("unsupported", func(t *testing.T) {
		path := filepath.Join(dir, "image.png")
		require.NoError(t, os.WriteFile(path, []byte{0x89}, 0o644))
		_, err := Extract(ctx, path)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Extract(ctx, filepath.Join(dir, "nope.txt"))
		assert.Error(t, err)
	})
}

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", columnLetter(0))
	assert.Equal(t, "Z", columnLetter(25))
	assert.Equal(t, "AA", columnLetter(26))
	assert.Equal(t, "AB", columnLetter(27))
}
