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
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"strings"
	"unicode"

	"github.com/philippgille/chromem-go"
)

// Embedder providers.
const (
	EmbedderHash   = "hash"
	EmbedderOllama = "ollama"
	EmbedderOpenAI = "openai"
)

// DefaultHashDimension is the vector size of the hash embedder.
const DefaultHashDimension = 256

// EmbedderConfig selects how document text is embedded.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int
}

// NewEmbeddingFunc returns the embedding function for cfg. The hash
// provider is used when none is set.
func NewEmbeddingFunc(cfg EmbedderConfig) (chromem.EmbeddingFunc, error) {
	switch cfg.Provider {
	case "", EmbedderHash:
		return HashEmbedding(cfg.Dimension), nil
	case EmbedderOllama:
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return chromem.NewEmbeddingFuncOllama(model, cfg.BaseURL), nil
	case EmbedderOpenAI:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai embedder requires an api key")
		}
		model := cfg.Model
		if model == "" {
			model = string(chromem.EmbeddingModelOpenAI3Small)
		}
		if cfg.BaseURL != "" {
			return chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, apiKey, model, nil), nil
		}
		return chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model)), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
}

// HashEmbedding returns a deterministic local embedding: lower-cased word
// tokens are hashed into a fixed number of buckets and the vector is
// normalized. Similar wording yields similar vectors.
func HashEmbedding(dimension int) chromem.EmbeddingFunc {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dimension)
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		for _, tok := range tokens {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			sum := h.Sum32()
			// The top bit picks the sign to spread collisions.
			if sum&(1<<31) != 0 {
				vec[sum%uint32(dimension)] -= 1
			} else {
				vec[sum%uint32(dimension)] += 1
			}
		}
		return normalize(vec), nil
	}
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		vec[0] = 1
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
