package store

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/jomardyan/FlexiFocus/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validStateDocument reports whether doc has the aggregate's shape.
func validStateDocument(doc map[string]any) bool {
	if doc == nil {
		return false
	}
	if _, ok := doc["timer"].(map[string]any); !ok {
		return false
	}
	if _, ok := doc["tasks"].([]any); !ok {
		return false
	}
	if _, ok := doc["history"].([]any); !ok {
		return false
	}
	return true
}

// ValidateSettings checks required fields and ranges.
func ValidateSettings(settings model.Settings) error {
	if err := validate.Struct(settings); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
