package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxRequestBody = 1 << 20 // 1 MiB

// requestSchemas holds the compiled JSON Schemas for mutating request
// bodies. Validation happens before decoding so a request either conforms
// fully or is rejected with a 400.
var requestSchemas = map[string]*jsonschema.Schema{}

func mustCompileSchema(name, schema string) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://mandate.schemas.local/api/%s.schema.json", name)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("schema %s load: %v", name, err))
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("schema %s compile: %v", name, err))
	}
	requestSchemas[name] = compiled
}

func init() {
	mustCompileSchema("ministry-register", `{
		"type": "object",
		"required": ["code", "name", "type"],
		"properties": {
			"code": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"type": {"type": "string", "enum": ["government", "military", "regulatory", "emergency_services", "utility"]},
			"jurisdiction": {"type": "string"},
			"contact": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"role": {"type": "string"}
				},
				"additionalProperties": false
			},
			"quorum": {
				"type": "object",
				"properties": {
					"min_threshold": {"type": "integer", "minimum": 1},
					"constraint": {"type": "string"}
				},
				"additionalProperties": false
			}
		},
		"additionalProperties": false
	}`)

	mustCompileSchema("ministry-update", `{
		"type": "object",
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"jurisdiction": {"type": "string"},
			"contact": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"role": {"type": "string"}
				},
				"additionalProperties": false
			},
			"quorum": {
				"type": "object",
				"properties": {
					"min_threshold": {"type": "integer", "minimum": 1},
					"constraint": {"type": "string"}
				},
				"additionalProperties": false
			}
		},
		"additionalProperties": false
	}`)

	mustCompileSchema("decision-create", `{
		"type": "object",
		"required": ["incident_id", "playbook_id", "policy"],
		"properties": {
			"incident_id": {"type": "string", "minLength": 1},
			"playbook_id": {"type": "string", "minLength": 1},
			"step_id": {"type": "string"},
			"prev_decision_hash": {"type": "string"},
			"policy": {
				"type": "object",
				"required": ["threshold", "required", "signers"],
				"properties": {
					"threshold": {"type": "integer", "minimum": 1},
					"required": {"type": "integer", "minimum": 1},
					"signers": {
						"type": "array",
						"minItems": 1,
						"items": {"type": "string", "minLength": 1}
					}
				},
				"additionalProperties": false
			}
		},
		"additionalProperties": false
	}`)

	mustCompileSchema("signature-submit", `{
		"type": "object",
		"required": ["ministry_id", "key_id", "action_type", "scope", "signature"],
		"properties": {
			"ministry_id": {"type": "string", "minLength": 1},
			"key_id": {"type": "string", "minLength": 1},
			"action_type": {"type": "string", "minLength": 1},
			"scope": {
				"type": "object",
				"properties": {
					"region": {"type": "string"},
					"assets": {"type": "array", "items": {"type": "string"}},
					"limits": {"type": "object"}
				},
				"additionalProperties": false
			},
			"signature": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)

	mustCompileSchema("decision-reject", `{
		"type": "object",
		"required": ["reason"],
		"properties": {
			"reason": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)
}

// DecodeValidated reads the request body, validates it against the named
// schema, then decodes it into v. Returns a human-readable message on
// failure suitable for a 400 response.
func DecodeValidated(r *http.Request, name string, v any) error {
	schema, ok := requestSchemas[name]
	if !ok {
		return fmt.Errorf("unknown request schema %q", name)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("request body is required")
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
