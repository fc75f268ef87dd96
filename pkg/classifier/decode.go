package classifier

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/abbyhq/abby/pkg/contracts"
)

//go:embed reasoning.schema.json
var reasoningSchema []byte

const reasoningSchemaURL = "https://abby.schemas.local/classifier/reasoning.schema.json"

// errNoJSON is returned when the reply holds no JSON object.
var errNoJSON = errors.New("model reply contains no JSON object")

func compileReasoningSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(reasoningSchemaURL, bytes.NewReader(reasoningSchema)); err != nil {
		return nil, fmt.Errorf("load reasoning schema: %w", err)
	}
	return c.Compile(reasoningSchemaURL)
}

// extractJSON strips markdown fences and any prose around the outermost
// JSON object.
func extractJSON(reply string) (string, error) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", errNoJSON
	}
	return s[start : end+1], nil
}

// decodeReasoning turns a model reply into a validated ReasoningResult.
// Replies without a "kind" are tagged by shape before validation.
func decodeReasoning(schema *jsonschema.Schema, reply string) (contracts.ReasoningResult, error) {
	var result contracts.ReasoningResult

	body, err := extractJSON(reply)
	if err != nil {
		return result, err
	}

	var doc map[string]any
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return result, fmt.Errorf("decode model reply: %w", err)
	}
	if _, ok := doc["kind"]; !ok {
		if _, hasAction := doc["action"]; !hasAction {
			if _, hasReply := doc["reply"]; hasReply {
				doc["kind"] = string(contracts.ReasoningKindConversation)
			}
		} else {
			doc["kind"] = string(contracts.ReasoningKindReasoning)
		}
	}

	if err := schema.Validate(doc); err != nil {
		return result, fmt.Errorf("model reply failed validation: %w", err)
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(normalized, &result); err != nil {
		return result, fmt.Errorf("decode reasoning: %w", err)
	}
	return result, nil
}
