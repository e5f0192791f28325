// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package schema validates resources against the JSON schemas of an app definition.
//
// An author schema is extended to an effective schema which additionally allows the
// system properties id, $clonable, $expires and $thumbnails.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// RelativePeriodPattern matches relative expiry periods like "1d", "2h30m" or "500ms"
const RelativePeriodPattern = `^\s*(\d+\s*(ms|s|m|h|d|w|y)\s*)+$`

// binaryFormat accepts any string, asset references are checked by the asset resolver
type binaryFormat struct{}

func (binaryFormat) IsFormat(input interface{}) bool {
	_, ok := input.(string)
	return ok
}

func init() {
	gojsonschema.FormatCheckers.Add("binary", binaryFormat{})
}

// Schema is a compiled JSON schema
type Schema struct {
	raw      map[string]interface{}
	compiled *gojsonschema.Schema
	binary   []Pointer
}

// Compile compiles raw as it is
func Compile(raw map[string]interface{}) (*Schema, error) {
	if raw == nil {
		raw = map[string]interface{}{}
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("cannot compile schema: %w", err)
	}
	s := &Schema{raw: raw, compiled: compiled}
	s.binary = binaryPointers(raw, nil)
	sort.Slice(s.binary, func(i, j int) bool {
		return strings.Join(s.binary[i], "/") < strings.Join(s.binary[j], "/")
	})
	return s, nil
}

// Effective builds the effective schema for a resource type from the author's schema.
// The author schema is not modified.
func Effective(author map[string]interface{}) (*Schema, error) {
	raw, err := deepCopy(author)
	if err != nil {
		return nil, err
	}
	if _, ok := raw["type"]; !ok {
		raw["type"] = "object"
	}
	properties, _ := raw["properties"].(map[string]interface{})
	if properties == nil {
		properties = map[string]interface{}{}
		raw["properties"] = properties
	}
	properties["id"] = map[string]interface{}{"type": "integer"}
	properties["$clonable"] = map[string]interface{}{"type": "boolean"}
	properties["$expires"] = map[string]interface{}{
		"type": "string",
		"anyOf": []interface{}{
			map[string]interface{}{"format": "date-time"},
			map[string]interface{}{"pattern": RelativePeriodPattern},
		},
	}
	properties["$thumbnails"] = map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "string", "format": "binary"},
	}
	return Compile(raw)
}

// Raw returns the schema as JSON compatible map. Do not modify it.
func (s *Schema) Raw() map[string]interface{} {
	return s.raw
}

// Validate validates a single document. It returns nil if the document is valid.
func (s *Schema) Validate(doc interface{}) ValidationErrors {
	return s.validateAt(doc, nil)
}

// ValidateList validates every document of a list. Paths of reported errors start
// with the index of the offending document.
func (s *Schema) ValidateList(docs []map[string]interface{}) ValidationErrors {
	var errs ValidationErrors
	for i, doc := range docs {
		errs = append(errs, s.validateAt(doc, []interface{}{i})...)
	}
	return errs
}

func (s *Schema) validateAt(doc interface{}, prefix []interface{}) ValidationErrors {
	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return ValidationErrors{NewValidationError(prefix, "type", err.Error(), "object", doc)}
	}
	if result.Valid() {
		return nil
	}
	var errs ValidationErrors
	for _, e := range result.Errors() {
		errs = append(errs, fromResultError(prefix, e))
	}
	return errs
}

func deepCopy(m map[string]interface{}) (map[string]interface{}, error) {
	if m == nil {
		return map[string]interface{}{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	var res map[string]interface{}
	if err = json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return res, nil
}
