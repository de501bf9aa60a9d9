// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package protocol adapts the A2A JSON-RPC surface to the orchestrator.
//
// It extracts an action and payload from a free-form message, converts task
// snapshots to the wire Task shape and dispatches the JSON-RPC methods
// message/send, tasks/get and tasks/cancel.
package protocol

import (
	"maps"

	"github.com/a2aproject/a2a-go/a2a"
)

// DefaultAction is used when a message names no action. It does not depend
// on the addressed agent type.
const DefaultAction = "chat"

// Routing hint keys read from message metadata and data parts.
const (
	KeyAction            = "action"
	KeyPayload           = "payload"
	KeyMessage           = "message"
	KeyContextDocumentID = "context_document_id"
)

// ExtractActionAndPayload resolves the action and payload carried by msg.
//
// Message metadata is read first, then every data part in order, so a later
// data part overrides anything found before it. Without an action the result
// is DefaultAction. Without a payload one is synthesized from the first text
// part and the context_document_id metadata entry.
func ExtractActionAndPayload(agentType string, msg *a2a.Message) (string, map[string]any) {
	var (
		action  string
		payload map[string]any
	)
	if msg == nil {
		return DefaultAction, map[string]any{KeyMessage: "", KeyContextDocumentID: nil}
	}

	apply := func(src map[string]any) {
		if a, ok := src[KeyAction].(string); ok && a != "" {
			action = a
		}
		if p, ok := src[KeyPayload].(map[string]any); ok {
			payload = maps.Clone(p)
		}
	}

	apply(msg.Metadata)
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case a2a.DataPart:
			apply(p.Data)
		case *a2a.DataPart:
			apply(p.Data)
		}
	}

	if action == "" {
		action = DefaultAction
	}
	if payload == nil {
		payload = map[string]any{
			KeyMessage:           firstText(msg),
			KeyContextDocumentID: msg.Metadata[KeyContextDocumentID],
		}
	}
	return action, payload
}

func firstText(msg *a2a.Message) string {
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case a2a.TextPart:
			return p.Text
		case *a2a.TextPart:
			return p.Text
		}
	}
	return ""
}
