package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const reflectionSchema = `{
  "type": "object",
  "properties": {
    "observation": {"type": ["string", "null"]},
    "resonance":   {"type": ["string", "null"]},
    "intention":   {"type": ["string", "null"]},
    "context":     {"type": ["string", "null"]}
  },
  "additionalProperties": false
}`

const coCreateSchema = `{
  "type": "object",
  "required": ["gate_id"],
  "properties": {
    "gate_id":    {"type": "string", "minLength": 1},
    "reflection": {"anyOf": [{"type": "null"}, {"$ref": "reflection.schema.json"}]}
  },
  "additionalProperties": false
}`

const schemaBase = "https://roseglass.dating/schemas/"

// bodyValidator checks request bodies against compiled JSON Schemas.
// Schemas only check shape; emptiness is the gate's concern.
type bodyValidator struct {
	reflection *jsonschema.Schema
	coCreate   *jsonschema.Schema
}

func newBodyValidator() (*bodyValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaBase+"reflection.schema.json", strings.NewReader(reflectionSchema)); err != nil {
		return nil, fmt.Errorf("failed to load reflection schema: %w", err)
	}
	if err := c.AddResource(schemaBase+"co-create.schema.json", strings.NewReader(coCreateSchema)); err != nil {
		return nil, fmt.Errorf("failed to load co-create schema: %w", err)
	}
	v := &bodyValidator{}
	var err error
	if v.reflection, err = c.Compile(schemaBase + "reflection.schema.json"); err != nil {
		return nil, fmt.Errorf("failed to compile reflection schema: %w", err)
	}
	if v.coCreate, err = c.Compile(schemaBase + "co-create.schema.json"); err != nil {
		return nil, fmt.Errorf("failed to compile co-create schema: %w", err)
	}
	return v, nil
}

var errInvalidJSON = errors.New("request body is not valid JSON")

// decode validates body against schema then unmarshals it into dst.
func decode(schema *jsonschema.Schema, body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return errInvalidJSON
	}
	if _, err := dec.Token(); err != io.EOF {
		return errInvalidJSON
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("schema validation failed: %s", leafMessage(ve))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errInvalidJSON
	}
	return nil
}

func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}

// reflectionBody is the wire form of a reflection. JSON null is treated as
// absent.
type reflectionBody map[string]*string

func (b reflectionBody) input() map[string]string {
	out := make(map[string]string, len(b))
	for k, v := range b {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

type coCreateBody struct {
	GateID     string         `json:"gate_id"`
	Reflection reflectionBody `json:"reflection,omitempty"`
}
