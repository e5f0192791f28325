package core

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Operation represents a modifying resource operation, one of Create, Update, Delete
type Operation string

// all supported resource operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
)

// SubscriptionActions are the operations an endpoint can subscribe to
var SubscriptionActions = []Operation{OperationCreate, OperationUpdate, OperationDelete}

// IsSubscriptionAction returns true if o can be subscribed to
func (o Operation) IsSubscriptionAction() bool {
	for _, a := range SubscriptionActions {
		if a == o {
			return true
		}
	}
	return false
}

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationList:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}
