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

// Package docedit implements the document_editor agent on top of the
// document store.
package docedit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/docstore"
)

// Type is the registry type of the agent.
const Type = "document_editor"

const (
	// MaxContentSize bounds document content in bytes.
	MaxContentSize = 10 * 1024 * 1024

	defaultSearchLimit = 10
	maxSearchLimit     = 100
	chatContextDocs    = 3
	snippetLength      = 200
)

// ErrImportDisabled is returned by import_document when no import
// directory is configured.
var ErrImportDisabled = errors.New("import_document is disabled: no import directory configured")

var collectionName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Store is the document store surface the agent needs.
type Store interface {
	AddDocument(ctx context.Context, collection string, doc docstore.Document) (string, error)
	GetDocument(ctx context.Context, collection, id string) (*docstore.Document, error)
	UpdateDocument(ctx context.Context, collection, id, content string, metadata map[string]string) error
	DeleteDocument(ctx context.Context, collection, id string) error
	Search(ctx context.Context, collection, query string, filters map[string]string, limit int) ([]docstore.SearchResult, error)
}

// Editor is the document editor agent.
type Editor struct {
	store          Store
	logger         *slog.Logger
	defaultDocType string
	importRoot     string
}

// Option configures an Editor.
type Option func(*Editor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Editor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDefaultDocumentType sets the type given to documents created without one.
func WithDefaultDocumentType(t string) Option {
	return func(e *Editor) {
		if t != "" {
			e.defaultDocType = t
		}
	}
}

// WithImportRoot allows import_document to read files below dir. Without it
// imports are rejected.
func WithImportRoot(dir string) Option {
	return func(e *Editor) {
		e.importRoot = dir
	}
}

// New creates the editor.
func New(store Store, opts ...Option) *Editor {
	e := &Editor{
		store:          store,
		logger:         slog.Default(),
		defaultDocType: "markdown",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Agent returns the agent exposing the editor's actions.
func (e *Editor) Agent() *agent.Agent {
	return agent.New("Document Editor", "Creates, edits, searches and imports documents",
		agent.Action{
			Name:        "create_document",
			Description: "Create a new document",
			Parameters:  []string{"title", "content", "document_type", "collection"},
			Handler:     e.CreateDocument,
		},
		agent.Action{
			Name:        "edit_document",
			Description: "Replace content, rename, or record an edit instruction",
			Parameters:  []string{"document_id", "content", "instruction", "title", "collection"},
			Handler:     e.EditDocument,
		},
		agent.Action{
			Name:        "get_document",
			Description: "Fetch a document by id",
			Parameters:  []string{"document_id", "collection"},
			Handler:     e.GetDocument,
		},
		agent.Action{
			Name:        "delete_document",
			Description: "Delete a document by id",
			Parameters:  []string{"document_id", "collection"},
			Handler:     e.DeleteDocument,
		},
		agent.Action{
			Name:        "search_documents",
			Description: "Semantic search over documents",
			Parameters:  []string{"query", "limit", "filters", "collection"},
			Handler:     e.SearchDocuments,
		},
		agent.Action{
			Name:        "import_document",
			Description: "Import a PDF, Word, Excel or text file",
			Parameters:  []string{"file_path", "title", "document_type", "collection"},
			Handler:     e.ImportDocument,
		},
		agent.Action{
			Name:        "chat",
			Description: "Answer a question from the stored documents",
			Parameters:  []string{"message", "context_document_id", "collection"},
			Handler:     e.Chat,
		},
	)
}

// Capabilities returns the capability map used at registration.
func (e *Editor) Capabilities() map[string]any {
	a := e.Agent()
	return map[string]any{
		agent.CapabilityName:        a.Name(),
		agent.CapabilityDescription: a.Description(),
		agent.CapabilityActions:     agent.DescribeActions(a),
		"max_content_size":          MaxContentSize,
		"supported_formats":         docstore.SupportedExtensions(),
	}
}

// Scope selects the collection an action works on. Collections always
// belong to the submitting user; an explicit collection names a
// sub-collection inside that user's namespace.
type Scope struct {
	Collection string `mapstructure:"collection"`
}

func (t Scope) resolve(ctx context.Context) (string, error) {
	base := docstore.UserCollection(agent.UserIDFromContext(ctx))
	if t.Collection == "" {
		return base, nil
	}
	if !collectionName.MatchString(t.Collection) {
		return "", fmt.Errorf("invalid collection %q: use letters, digits, '-' or '_'", t.Collection)
	}
	return base + ":" + t.Collection, nil
}

type createParams struct {
	Scope        `mapstructure:",squash"`
	Title        string `mapstructure:"title"`
	Filename     string `mapstructure:"filename"`
	Content      string `mapstructure:"content"`
	DocumentType string `mapstructure:"document_type"`
}

// CreateDocument stores a new document.
func (e *Editor) CreateDocument(ctx context.Context, payload map[string]any) (any, error) {
	var p createParams
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.Title == "" {
		p.Title = p.Filename
	}
	if strings.TrimSpace(p.Title) == "" {
		return nil, errors.New("title cannot be empty")
	}
	if len(p.Content) > MaxContentSize {
		return nil, fmt.Errorf("document content too large (max %d bytes)", MaxContentSize)
	}
	if p.DocumentType == "" {
		p.DocumentType = e.defaultDocType
	}
	collection, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}

	id, err := e.store.AddDocument(ctx, collection, docstore.Document{
		Title:   p.Title,
		Content: p.Content,
		Type:    p.DocumentType,
		UserID:  agent.UserIDFromContext(ctx),
		Metadata: map[string]string{
			"created_by": Type,
		},
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Document created", "id", id, "title", p.Title, "size", len(p.Content))
	return map[string]any{
		"success":        true,
		"document_id":    id,
		"title":          p.Title,
		"document_type":  p.DocumentType,
		"content_length": len(p.Content),
		"message":        fmt.Sprintf("Document '%s' created", p.Title),
	}, nil
}

type editParams struct {
	Scope       `mapstructure:",squash"`
	DocumentID  string `mapstructure:"document_id"`
	Content     string `mapstructure:"content"`
	Instruction string `mapstructure:"instruction"`
	Title       string `mapstructure:"title"`
}

// EditDocument replaces content or title. An instruction without content is
// recorded as a note appended to the document.
func (e *Editor) EditDocument(ctx context.Context, payload map[string]any) (any, error) {
	var p editParams
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.DocumentID) == "" {
		return nil, errors.New("document_id cannot be empty")
	}
	if p.Content == "" && p.Instruction == "" && p.Title == "" {
		return nil, errors.New("one of content, instruction or title is required")
	}
	if len(p.Content) > MaxContentSize {
		return nil, fmt.Errorf("document content too large (max %d bytes)", MaxContentSize)
	}

	collection, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	content := p.Content
	meta := map[string]string{"last_edited": time.Now().UTC().Format(time.RFC3339)}
	if p.Title != "" {
		meta["title"] = p.Title
	}
	if p.Instruction != "" {
		meta["edit_instruction"] = p.Instruction
		if content == "" {
			doc, err := e.store.GetDocument(ctx, collection, p.DocumentID)
			if err != nil {
				return nil, err
			}
			content = doc.Content + fmt.Sprintf("\n\n<!-- Edit applied: %s -->", p.Instruction)
		}
	}

	if err := e.store.UpdateDocument(ctx, collection, p.DocumentID, content, meta); err != nil {
		return nil, err
	}

	e.logger.Info("Document edited", "id", p.DocumentID)
	return map[string]any{
		"success":     true,
		"document_id": p.DocumentID,
		"message":     fmt.Sprintf("Document %s updated", p.DocumentID),
	}, nil
}

type idParams struct {
	Scope      `mapstructure:",squash"`
	DocumentID string `mapstructure:"document_id"`
}

// GetDocument returns a stored document.
func (e *Editor) GetDocument(ctx context.Context, payload map[string]any) (any, error) {
	var p idParams
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.DocumentID == "" {
		return nil, errors.New("document_id cannot be empty")
	}

	collection, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := e.store.GetDocument(ctx, collection, p.DocumentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":  true,
		"document": doc,
		"message":  fmt.Sprintf("Retrieved document '%s'", doc.Title),
	}, nil
}

// DeleteDocument removes a stored document.
func (e *Editor) DeleteDocument(ctx context.Context, payload map[string]any) (any, error) {
	var p idParams
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.DocumentID == "" {
		return nil, errors.New("document_id cannot be empty")
	}

	collection, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.store.DeleteDocument(ctx, collection, p.DocumentID); err != nil {
		return nil, err
	}
	return map[string]any{
		"success":     true,
		"document_id": p.DocumentID,
		"message":     fmt.Sprintf("Document %s deleted", p.DocumentID),
	}, nil
}

type searchParams struct {
	Scope   `mapstructure:",squash"`
	Query   string            `mapstructure:"query"`
	Limit   int               `mapstructure:"limit"`
	Filters map[string]string `mapstructure:"filters"`
}

// SearchDocuments runs a semantic search.
func (e *Editor) SearchDocuments(ctx context.Context, payload map[string]any) (any, error) {
	var p searchParams
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, errors.New("search query cannot be empty")
	}
	if p.Limit <= 0 || p.Limit > maxSearchLimit {
		p.Limit = defaultSearchLimit
	}

	collection, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	results, err := e.store.Search(ctx, collection, p.Query, p.Filters, p.Limit)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":   true,
		"query":     p.Query,
		"documents": results,
		"total":     len(results),
		"response":  fmt.Sprintf("Found %d document(s) matching '%s'", len(results), p.Query),
	}, nil
}

type importParams struct {
	Scope        `mapstructure:",squash"`
	FilePath     string `mapstructure:"file_path"`
	Title        string `mapstructure:"title"`
	DocumentType string `mapstructure:"document_type"`
}

// ImportDocument extracts a file's text and stores it as a document.
func (e *Editor) ImportDocument(ctx context.Context, payload map[string]any) (any, error) {
	var p importParams
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.FilePath == "" {
		return nil, errors.New("file_path cannot be empty")
	}
	collection, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	path, err := e.importPath(p.FilePath)
	if err != nil {
		return nil, err
	}

	extracted, err := docstore.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(extracted.Content) > MaxContentSize {
		return nil, fmt.Errorf("document content too large (max %d bytes)", MaxContentSize)
	}

	title := p.Title
	if title == "" {
		title = extracted.Title
	}
	docType := p.DocumentType
	if docType == "" {
		docType = extracted.Type
	}

	extracted.Metadata["created_by"] = Type
	id, err := e.store.AddDocument(ctx, collection, docstore.Document{
		Title:    title,
		Content:  extracted.Content,
		Type:     docType,
		UserID:   agent.UserIDFromContext(ctx),
		Metadata: extracted.Metadata,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Document imported", "id", id, "path", path, "type", docType)
	return map[string]any{
		"success":     true,
		"document_id": id,
		"title":       title,
		"word_count":  extracted.Metadata["word_count"],
		"message":     fmt.Sprintf("Imported '%s'", title),
	}, nil
}

type chatParams struct {
	Scope             `mapstructure:",squash"`
	Message           string `mapstructure:"message"`
	ContextDocumentID string `mapstructure:"context_document_id"`
}

// Chat answers from retrieval over the user's documents.
func (e *Editor) Chat(ctx context.Context, payload map[string]any) (any, error) {
	var p chatParams
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Message) == "" {
		return nil, errors.New("message cannot be empty")
	}
	collection, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	var sources []string

	if p.ContextDocumentID != "" {
		doc, err := e.store.GetDocument(ctx, collection, p.ContextDocumentID)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "In '%s': %s", doc.Title, snippet(doc.Content))
		sources = append(sources, doc.ID)
	} else {
		results, err := e.store.Search(ctx, collection, p.Message, nil, chatContextDocs)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return map[string]any{
				"response": "I couldn't find any documents related to your question.",
				"sources":  []string{},
			}, nil
		}
		b.WriteString("Here is what your documents say:")
		for _, r := range results {
			fmt.Fprintf(&b, "\n- %s: %s", r.Title, snippet(r.Content))
			sources = append(sources, r.ID)
		}
	}

	return map[string]any{
		"response": b.String(),
		"sources":  sources,
	}, nil
}

// importPath resolves path against the import root. Symlinks are followed
// before the containment check, so a link inside the root cannot reach a
// file outside it.
func (e *Editor) importPath(path string) (string, error) {
	if e.importRoot == "" {
		return "", ErrImportDisabled
	}
	root, err := filepath.Abs(e.importRoot)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	if !within(root, path) {
		return "", fmt.Errorf("file %s is outside the import directory", path)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("import directory unavailable: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if !within(realRoot, resolved) {
		return "", fmt.Errorf("file %s is outside the import directory", path)
	}
	return resolved, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= snippetLength {
		return s
	}
	return s[:snippetLength] + "..."
}

// decode maps a payload onto a typed parameter struct. Numbers decoded from
// JSON arrive as float64, hence the weak typing.
func decode(payload map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
