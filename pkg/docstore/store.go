// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package docstore stores user documents in embedded chromem-go collections
// and extracts text from office and PDF files for import.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
)

// Reserved metadata keys. They are stored alongside user metadata.
const (
	metaTitle     = "title"
	metaType      = "document_type"
	metaUserID    = "user_id"
	metaCreatedAt = "created_at"
	metaUpdatedAt = "updated_at"
)

// ErrDocumentNotFound is returned when a document id is unknown.
var ErrDocumentNotFound = errors.New("document not found")

// Document is a stored text document.
type Document struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Type      string            `json:"document_type"`
	UserID    string            `json:"user_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SearchResult is a document with its similarity to the query.
type SearchResult struct {
	Document
	Score float32 `json:"score"`
}

// Config configures a Store.
type Config struct {
	// Path enables file persistence. Empty means in memory only.
	Path     string
	Compress bool
	Embedder EmbedderConfig
}

// Store is a collection-scoped document store.
type Store struct {
	db     *chromem.DB
	embed  chromem.EmbeddingFunc
	logger *slog.Logger

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// New opens a store.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	embed, err := NewEmbeddingFunc(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	var db *chromem.DB
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create docstore directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open docstore at %s: %w", cfg.Path, err)
		}
		logger.Info("Opened persistent document store", "path", cfg.Path)
	} else {
		db = chromem.NewDB()
		logger.Info("Created in-memory document store")
	}

	return &Store{
		db:          db,
		embed:       embed,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// UserCollection returns the default collection name for a user.
func UserCollection(userID string) string {
	if userID == "" {
		userID = "default"
	}
	return "documents_" + userID
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// AddDocument stores doc and returns its id, generating one when empty.
func (s *Store) AddDocument(ctx context.Context, collection string, doc Document) (string, error) {
	col, err := s.collection(collection)
	if err != nil {
		return "", err
	}

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if err := col.AddDocuments(ctx, []chromem.Document{toChromem(doc)}, runtime.NumCPU()); err != nil {
		return "", fmt.Errorf("failed to add document: %w", err)
	}

	s.logger.Debug("Document stored", "collection", collection, "id", doc.ID)
	return doc.ID, nil
}

// GetDocument returns the document with the given id.
func (s *Store) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	found, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	doc := fromChromem(found.ID, found.Content, found.Metadata)
	return &doc, nil
}

// UpdateDocument replaces the content of a document and merges metadata.
// An empty content keeps the current content. The stored document is
// overwritten in place, so a failed embedding leaves it untouched.
func (s *Store) UpdateDocument(ctx context.Context, collection, id, content string, metadata map[string]string) error {
	existing, err := s.GetDocument(ctx, collection, id)
	if err != nil {
		return err
	}

	updated := *existing
	if content != "" {
		updated.Content = content
	}
	updated.Metadata = maps.Clone(existing.Metadata)
	if updated.Metadata == nil {
		updated.Metadata = make(map[string]string)
	}
	for k, v := range metadata {
		switch k {
		case metaTitle:
			updated.Title = v
		case metaType:
			updated.Type = v
		default:
			updated.Metadata[k] = v
		}
	}

	_, err = s.AddDocument(ctx, collection, updated)
	return err
}

// DeleteDocument removes a document.
func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if _, err := col.GetByID(ctx, id); err != nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// Search returns up to limit documents most similar to query whose metadata
// matches every filter entry. The limit is clamped to the collection size.
func (s *Store) Search(ctx context.Context, collection, query string, filters map[string]string, limit int) ([]SearchResult, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	var where map[string]string
	if len(filters) > 0 {
		where = filters
	}

	results, err := col.Query(ctx, query, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return toResults(results), nil
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) (int, error) {
	col, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func toResults(results []chromem.Result) []SearchResult {
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			Document: fromChromem(r.ID, r.Content, r.Metadata),
			Score:    r.Similarity,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func toChromem(doc Document) chromem.Document {
	meta := make(map[string]string, len(doc.Metadata)+5)
	maps.Copy(meta, doc.Metadata)
	meta[metaTitle] = doc.Title
	meta[metaType] = doc.Type
	meta[metaUserID] = doc.UserID
	meta[metaCreatedAt] = doc.CreatedAt.Format(time.RFC3339Nano)
	meta[metaUpdatedAt] = doc.UpdatedAt.Format(time.RFC3339Nano)
	return chromem.Document{ID: doc.ID, Content: doc.Content, Metadata: meta}
}

func fromChromem(id, content string, meta map[string]string) Document {
	doc := Document{
		ID:       id,
		Content:  content,
		Metadata: make(map[string]string),
	}
	for k, v := range meta {
		switch k {
		case metaTitle:
			doc.Title = v
		case metaType:
			doc.Type = v
		case metaUserID:
			doc.UserID = v
		case metaCreatedAt:
			doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
		case metaUpdatedAt:
			doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
		default:
			doc.Metadata[k] = v
		}
	}
	return doc
}
