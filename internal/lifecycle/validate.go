package lifecycle

import (
	"fmt"
	"math"

	"relay-os/backend/pkg/models"
)

// ValidateContext checks submitted context values against the workflow's
// field definitions. Every problem is collected so the caller can surface
// field-level messages in one round trip. Context keys without a matching
// field definition are allowed; gateway conditions may reference computed
// keys the form never shows.
func ValidateContext(wf *models.Workflow, context map[string]any) error {
	var problems []FieldProblem

	for _, field := range wf.Fields {
		value, present := context[field.Key]
		if !present || value == nil {
			if field.Required {
				problems = append(problems, FieldProblem{Field: field.Key, Reason: "required field is missing"})
			}
			continue
		}
		if reason := checkFieldValue(field, value); reason != "" {
			problems = append(problems, FieldProblem{Field: field.Key, Reason: reason})
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func checkFieldValue(field models.FieldDefinition, value any) string {
	switch field.Type {
	case models.FieldTypeString, models.FieldTypeText, models.FieldTypeUser, models.FieldTypeEntity:
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("expected a string, got %T", value)
		}

	case models.FieldTypeAmount, models.FieldTypeDecimal:
		if _, ok := asNumber(value); !ok {
			return fmt.Sprintf("expected a number, got %T", value)
		}

	case models.FieldTypeInteger:
		n, ok := asNumber(value)
		if !ok {
			return fmt.Sprintf("expected an integer, got %T", value)
		}
		if n != math.Trunc(n) {
			return "expected a whole number"
		}

	case models.FieldTypeList:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected a string option, got %T", value)
		}
		for _, opt := range field.Options {
			if opt == s {
				return ""
			}
		}
		return fmt.Sprintf("%q is not one of the allowed options", s)
	}
	return ""
}

// asNumber accepts the numeric shapes a JSON decoder or Go caller may hand
// us.
func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
