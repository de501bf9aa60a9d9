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

package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// maxSheetCells caps the cells read from each spreadsheet sheet.
const maxSheetCells = 1000

// ErrUnsupportedFormat is returned by Extract for unknown file types.
var ErrUnsupportedFormat = errors.New("unsupported document format")

var plainTextExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true,
	".json": true, ".yaml": true, ".yml": true, ".log": true,
}

// Extraction is the text content of an imported file.
type Extraction struct {
	Title    string
	Content  string
	Type     string
	Metadata map[string]string
}

// SupportedExtensions lists the file extensions Extract understands.
func SupportedExtensions() []string {
	exts := []string{".pdf", ".docx", ".xlsx"}
	for ext := range plainTextExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// Extract reads the text content of the file at path.
func Extract(ctx context.Context, path string) (*Extraction, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var out *Extraction
	switch {
	case ext == ".pdf":
		out, err = extractPDF(ctx, path, info.Size())
	case ext == ".docx":
		out, err = extractDocx(path)
	case ext == ".xlsx":
		out, err = extractXlsx(ctx, path)
	case plainTextExtensions[ext]:
		out, err = extractText(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	out.Title = filepath.Base(path)
	out.Metadata["source"] = path
	out.Metadata["file_size"] = fmt.Sprintf("%d", info.Size())
	out.Metadata["word_count"] = fmt.Sprintf("%d", len(strings.Fields(out.Content)))
	return out, nil
}

func extractText(path string) (*Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return &Extraction{
		Content:  string(data),
		Type:     "text",
		Metadata: make(map[string]string),
	}, nil
}

func extractPDF(ctx context.Context, path string, size int64) (*Extraction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF file: %w", err)
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, size)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	var parts []string
	pages := reader.NumPage()
	for n := 1; n <= pages; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			parts = append(parts, fmt.Sprintf("--- Page %d (extraction failed: %v) ---", n, err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", n, text))
		}
	}

	return &Extraction{
		Content:  strings.Join(parts, "\n\n"),
		Type:     "pdf",
		Metadata: map[string]string{"pages": fmt.Sprintf("%d", pages)},
	}, nil
}

func extractDocx(path string) (*Extraction, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Word document: %w", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	return &Extraction{
		Content:  content,
		Type:     "docx",
		Metadata: map[string]string{"paragraphs": fmt.Sprintf("%d", len(strings.Split(content, "\n\n")))},
	}, nil
}

func extractXlsx(ctx context.Context, path string) (*Extraction, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Excel document: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var parts []string
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "--- Sheet: %s ---\n", sheet)
		cells := 0
	rowLoop:
		for r, row := range rows {
			for c, cell := range row {
				if cells >= maxSheetCells {
					b.WriteString("... (truncated)\n")
					break rowLoop
				}
				if text := strings.TrimSpace(cell); text != "" {
					fmt.Fprintf(&b, "%s%d: %s\n", columnLetter(c), r+1, text)
					cells++
				}
			}
		}
		parts = append(parts, strings.TrimSpace(b.String()))
	}

	return &Extraction{
		Content:  strings.Join(parts, "\n\n"),
		Type:     "xlsx",
		Metadata: map[string]string{"sheets": fmt.Sprintf("%d", len(sheets))},
	}, nil
}

// columnLetter converts a 0-based column index to its spreadsheet letter.
func columnLetter(index int) string {
	result := ""
	for {
		result = string(rune('A'+index%26)) + result
		index = index/26 - 1
		if index < 0 {
			break
		}
	}
	return result
}
