package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError describes one violated constraint of a document
type ValidationError struct {
	Argument interface{}   `json:"argument"`
	Instance interface{}   `json:"instance"`
	Message  string        `json:"message"`
	Name     string        `json:"name"`
	Path     []interface{} `json:"path"`
	Property string        `json:"property"`
	Schema   interface{}   `json:"schema"`
	Stack    string        `json:"stack"`
}

// ValidationErrors is a list of validation errors
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	var s []string
	for _, e := range errs {
		s = append(s, e.Stack)
	}
	return strings.Join(s, "; ")
}

// NewValidationError creates a validation error for the document node at path
func NewValidationError(path []interface{}, name, message string, argument, instance interface{}) ValidationError {
	if path == nil {
		path = []interface{}{}
	}
	property := PropertyString(path)
	return ValidationError{
		Argument: argument,
		Instance: instance,
		Message:  message,
		Name:     name,
		Path:     path,
		Property: property,
		Schema:   map[string]interface{}{},
		Stack:    property + " " + message,
	}
}

// PropertyString renders a path as instance.foo[0].bar
func PropertyString(path []interface{}) string {
	var sb strings.Builder
	sb.WriteString("instance")
	for _, p := range path {
		switch v := p.(type) {
		case int:
			sb.WriteString("[" + strconv.Itoa(v) + "]")
		default:
			sb.WriteString(fmt.Sprintf(".%v", v))
		}
	}
	return sb.String()
}

// WithPrefix returns a copy of the error with prefix prepended to its path
func (e ValidationError) WithPrefix(prefix ...interface{}) ValidationError {
	if len(prefix) == 0 {
		return e
	}
	path := append(append([]interface{}{}, prefix...), e.Path...)
	res := NewValidationError(path, e.Name, e.Message, e.Argument, e.Instance)
	res.Schema = e.Schema
	return res
}

var keywordNames = map[string]string{
	"required":                        "required",
	"invalid_type":                    "type",
	"number_any_of":                   "anyOf",
	"number_one_of":                   "oneOf",
	"number_all_of":                   "allOf",
	"number_not":                      "not",
	"missing_dependency":              "dependencies",
	"const":                           "const",
	"enum":                            "enum",
	"array_no_additional_items":       "additionalItems",
	"array_min_items":                 "minItems",
	"array_max_items":                 "maxItems",
	"unique":                          "uniqueItems",
	"contains":                        "contains",
	"array_min_properties":            "minProperties",
	"array_max_properties":            "maxProperties",
	"additional_property_not_allowed": "additionalProperties",
	"invalid_property_pattern":        "patternProperties",
	"invalid_property_name":           "propertyNames",
	"string_gte":                      "minLength",
	"string_lte":                      "maxLength",
	"pattern":                         "pattern",
	"multiple_of":                     "multipleOf",
	"number_gte":                      "minimum",
	"number_gt":                       "exclusiveMinimum",
	"number_lte":                      "maximum",
	"number_lt":                       "exclusiveMaximum",
	"condition_then":                  "if",
	"condition_else":                  "if",
	"format":                          "format",
}

// contextPath converts a gojsonschema context like (root).foo.0 into a path
func contextPath(e gojsonschema.ResultError) []interface{} {
	const sep = "\x1f"
	path := []interface{}{}
	if e.Context() == nil {
		return path
	}
	for _, p := range strings.Split(e.Context().String(sep), sep) {
		if p == "(root)" || p == "" {
			continue
		}
		if i, err := strconv.Atoi(p); err == nil {
			path = append(path, i)
		} else {
			path = append(path, p)
		}
	}
	return path
}

func fromResultError(prefix []interface{}, e gojsonschema.ResultError) ValidationError {
	details := e.Details()
	name, ok := keywordNames[e.Type()]
	if !ok {
		name = e.Type()
	}

	var argument interface{}
	message := e.Description()
	switch e.Type() {
	case "required":
		argument = details["property"]
		message = fmt.Sprintf("requires property %q", fmt.Sprint(details["property"]))
	case "invalid_type":
		argument = []interface{}{details["expected"]}
		message = fmt.Sprintf("is not of a type(s) %v", details["expected"])
	case "format":
		argument = details["format"]
		message = fmt.Sprintf("does not conform to the %q format", fmt.Sprint(details["format"]))
	case "additional_property_not_allowed":
		argument = details["property"]
		message = fmt.Sprintf("is not allowed to have the additional property %q", fmt.Sprint(details["property"]))
	case "enum":
		argument = details["allowed"]
		message = fmt.Sprintf("is not one of enum values: %v", details["allowed"])
	case "pattern":
		argument = details["pattern"]
		message = fmt.Sprintf("does not match pattern %q", fmt.Sprint(details["pattern"]))
	case "string_gte", "string_lte", "number_gte", "number_gt", "number_lte", "number_lt":
		argument = details["min"]
		if argument == nil {
			argument = details["max"]
		}
	}

	path := append(append([]interface{}{}, prefix...), contextPath(e)...)
	return NewValidationError(path, name, message, argument, e.Value())
}
