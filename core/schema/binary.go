package schema

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Pointer addresses nodes in a document. The element "*" addresses every item of an array.
type Pointer []string

func (p Pointer) String() string {
	return "/" + strings.Join(p, "/")
}

// BinaryPointers returns the pointers of all nodes declared with format binary
func (s *Schema) BinaryPointers() []Pointer {
	return s.binary
}

func binaryPointers(node map[string]interface{}, prefix Pointer) []Pointer {
	var res []Pointer
	if format, _ := node["format"].(string); format == "binary" {
		res = append(res, append(Pointer{}, prefix...))
	}
	if properties, ok := node["properties"].(map[string]interface{}); ok {
		for name, child := range properties {
			if c, ok := child.(map[string]interface{}); ok {
				res = append(res, binaryPointers(c, append(append(Pointer{}, prefix...), name))...)
			}
		}
	}
	if items, ok := node["items"].(map[string]interface{}); ok {
		res = append(res, binaryPointers(items, append(append(Pointer{}, prefix...), "*"))...)
	}
	return res
}

// VisitFunc is called for every present binary node. The returned value replaces the node.
type VisitFunc func(path []interface{}, value interface{}) interface{}

// VisitBinary calls visit for every node of doc addressed by pointers
func VisitBinary(doc map[string]interface{}, pointers []Pointer, visit VisitFunc) {
	for _, p := range pointers {
		visitNode(doc, p, []interface{}{}, visit)
	}
}

func visitNode(node interface{}, pointer Pointer, path []interface{}, visit VisitFunc) interface{} {
	if len(pointer) == 0 {
		return visit(path, node)
	}
	head, tail := pointer[0], pointer[1:]
	if head == "*" {
		items, ok := node.([]interface{})
		if !ok {
			return node
		}
		for i := range items {
			items[i] = visitNode(items[i], tail, appendPath(path, i), visit)
		}
		return items
	}
	obj, ok := node.(map[string]interface{})
	if !ok {
		return node
	}
	child, ok := obj[head]
	if !ok || child == nil {
		return node
	}
	obj[head] = visitNode(child, tail, appendPath(path, head), visit)
	return obj
}

func appendPath(path []interface{}, p interface{}) []interface{} {
	return append(append([]interface{}{}, path...), p)
}

// CoerceStrings converts string values, as they come from CSV, into the types declared
// for the respective top level properties. Empty strings are removed.
func (s *Schema) CoerceStrings(doc map[string]interface{}) {
	properties, _ := s.raw["properties"].(map[string]interface{})
	for key, value := range doc {
		str, ok := value.(string)
		if !ok {
			continue
		}
		if str == "" {
			delete(doc, key)
			continue
		}
		property, _ := properties[key].(map[string]interface{})
		typ, _ := property["type"].(string)
		switch typ {
		case "integer":
			if i, err := strconv.ParseInt(str, 10, 64); err == nil {
				doc[key] = float64(i)
			}
		case "number":
			if f, err := strconv.ParseFloat(str, 64); err == nil {
				doc[key] = f
			}
		case "boolean":
			if b, err := strconv.ParseBool(str); err == nil {
				doc[key] = b
			}
		case "object", "array":
			var v interface{}
			if err := json.Unmarshal([]byte(str), &v); err == nil {
				doc[key] = v
			}
		}
	}
}
