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

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/conductor/pkg/config"
)

// SchemaCmd prints the JSON Schema of the configuration file to stdout.
type SchemaCmd struct {
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run() error {
	return c.run(os.Stdout)
}

func (c *SchemaCmd) run(w io.Writer) error {
	schema, err := config.Schema()
	if err != nil {
		return err
	}
	if c.Compact {
		var buf bytes.Buffer
		if err := json.Compact(&buf, schema); err != nil {
			return fmt.Errorf("failed to compact schema: %w", err)
		}
		schema = buf.Bytes()
	}
	if _, err := w.Write(append(schema, '\n')); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	return nil
}
