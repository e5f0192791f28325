// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/appseed/core"
	"github.com/relabs-tech/appseed/core/schema"
)

// AppDefinition holds the resource and member configuration of an app
type AppDefinition struct {
	Resources map[string]*ResourceDefinition `json:"resources"`
	Members   *MembersDefinition             `json:"members,omitempty"`

	memberSchema *schema.Schema
}

// ResourceDefinition describes a resource type of an app
type ResourceDefinition struct {
	Schema     map[string]interface{}         `json:"schema"`
	History    *HistoryConfiguration          `json:"history,omitempty"`
	References map[string]ReferenceDefinition `json:"references,omitempty"`
	Expires    string                         `json:"expires,omitempty"`
	Roles      map[core.Operation][]string    `json:"roles,omitempty"`

	schema *schema.Schema
}

// HistoryConfiguration is either a boolean or an object {"data": bool}.
// The object form enables history, data defaults to true.
type HistoryConfiguration struct {
	Enabled bool
	Data    bool
}

// UnmarshalJSON is a custom JSON unmarshaller
func (h *HistoryConfiguration) UnmarshalJSON(data []byte) error {
	var enabled bool
	if err := json.Unmarshal(data, &enabled); err == nil {
		h.Enabled = enabled
		h.Data = enabled
		return nil
	}
	var object struct {
		Data *bool `json:"data"`
	}
	if err := json.Unmarshal(data, &object); err != nil {
		return fmt.Errorf("history must be a boolean or an object: %w", err)
	}
	h.Enabled = true
	h.Data = object.Data == nil || *object.Data
	return nil
}

// MarshalJSON is a custom JSON marshaller
func (h HistoryConfiguration) MarshalJSON() ([]byte, error) {
	if h.Enabled && !h.Data {
		return []byte(`{"data":false}`), nil
	}
	return json.Marshal(h.Enabled)
}

// onDelete behaviours of a reference
const (
	OnDeleteCascade = "cascade"
	OnDeleteClear   = "clear"
)

// ReferenceDefinition declares a field which holds the id of another resource
type ReferenceDefinition struct {
	Resource string `json:"resource"`
	OnDelete string `json:"onDelete,omitempty"`
}

// MembersDefinition declares the custom properties of app members
type MembersDefinition struct {
	Properties map[string]MemberPropertyDefinition `json:"properties"`
}

// MemberPropertyDefinition declares one member property. A property with a reference
// holds a resource id, or an array of resource ids, of the referenced type.
type MemberPropertyDefinition struct {
	Schema    map[string]interface{} `json:"schema"`
	Reference *struct {
		Resource string `json:"resource"`
	} `json:"reference,omitempty"`
}

// parseAppDefinition parses and compiles an app definition
func parseAppDefinition(data []byte) (*AppDefinition, error) {
	var def AppDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid app definition: %w", err)
	}
	if err := def.compile(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (def *AppDefinition) compile() error {
	if def.Resources == nil {
		def.Resources = map[string]*ResourceDefinition{}
	}
	for name, rd := range def.Resources {
		if rd == nil {
			return fmt.Errorf("resource %s: definition is empty", name)
		}
		s, err := schema.Effective(rd.Schema)
		if err != nil {
			return fmt.Errorf("resource %s: %w", name, err)
		}
		rd.schema = s
		for field, ref := range rd.References {
			if _, ok := def.Resources[ref.Resource]; !ok {
				return fmt.Errorf("resource %s: reference %s points to unknown resource %s", name, field, ref.Resource)
			}
			switch ref.OnDelete {
			case "", OnDeleteCascade, OnDeleteClear:
			default:
				return fmt.Errorf("resource %s: reference %s has invalid onDelete %s", name, field, ref.OnDelete)
			}
		}
		if rd.Expires != "" {
			if _, ok := schema.ParsePeriod(rd.Expires); !ok {
				return fmt.Errorf("resource %s: invalid expires %s", name, rd.Expires)
			}
		}
		for operation := range rd.Roles {
			switch operation {
			case core.OperationCreate, core.OperationRead, core.OperationUpdate, core.OperationDelete, core.OperationList:
			default:
				return fmt.Errorf("resource %s: invalid operation %s in roles", name, operation)
			}
		}
	}

	properties := map[string]interface{}{}
	if def.Members != nil {
		for name, property := range def.Members.Properties {
			if property.Reference != nil {
				if _, ok := def.Resources[property.Reference.Resource]; !ok {
					return fmt.Errorf("member property %s references unknown resource %s", name, property.Reference.Resource)
				}
			}
			s := property.Schema
			if s == nil {
				s = map[string]interface{}{}
			}
			properties[name] = s
		}
	}
	memberSchema, err := schema.Compile(map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": def.Members == nil,
	})
	if err != nil {
		return fmt.Errorf("member properties: %w", err)
	}
	def.memberSchema = memberSchema
	return nil
}

// resourceTypes returns the declared resource types in alphabetical order
func (def *AppDefinition) resourceTypes() []string {
	types := make([]string, 0, len(def.Resources))
	for name := range def.Resources {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// memberReferences returns property name -> referenced resource type for all member
// properties declared as references
func (def *AppDefinition) memberReferences() map[string]string {
	res := map[string]string{}
	if def.Members == nil {
		return res
	}
	for name, property := range def.Members.Properties {
		if property.Reference != nil {
			res[name] = property.Reference.Resource
		}
	}
	return res
}

// referencingFields returns, per resource type, the fields which reference resources of typ
func (def *AppDefinition) referencingFields(typ string) map[string][]ReferenceField {
	res := map[string][]ReferenceField{}
	for name, rd := range def.Resources {
		for field, ref := range rd.References {
			if ref.Resource == typ {
				res[name] = append(res[name], ReferenceField{Field: field, OnDelete: ref.OnDelete})
			}
		}
	}
	return res
}

// ReferenceField is a field of a resource type referencing another type
type ReferenceField struct {
	Field    string
	OnDelete string
}
