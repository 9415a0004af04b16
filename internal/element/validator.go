package element

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// Validator: validation of elements and the text they carry
type Validator struct {
	validate  *validator.Validate
	sanitizer *bluemonday.Policy
}

func NewValidator() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("elementid", validElementID); err != nil {
		panic(err)
	}
	return &Validator{
		validate:  validate,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// validElementID: ids are opaque keys, limited to URL-safe characters
func validElementID(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == ':', r == '.':
		default:
			return false
		}
	}
	return true
}

// ValidateChange checks the change envelope and its element.
func (v *Validator) ValidateChange(ch *Change) error {
	if err := v.validate.Struct(ch); err != nil {
		return v.wrap(err)
	}
	return v.ValidateElement(&ch.Element)
}

// ValidateElement validates an element against the schema for its type and
// rejects payload strings that carry markup. The element is never modified.
// Tombstones skip the payload schema.
func (v *Validator) ValidateElement(el *Element) error {
	if err := v.validate.Struct(el); err != nil {
		return v.wrap(err)
	}

	if !AllowedElementTypes[el.Type] {
		return fmt.Errorf("invalid element type: %s", el.Type)
	}

	if !el.IsDeleted {
		schema := schemaForType(el.Type)
		if schema == nil {
			return fmt.Errorf("no schema found for element type: %s", el.Type)
		}
		if err := mapToStruct(el.Data, schema); err != nil {
			return fmt.Errorf("failed to parse element data: %w", err)
		}
		if err := v.validate.Struct(schema); err != nil {
			return v.wrap(err)
		}
	}

	return v.checkValue("data", el.Data)
}

// ValidateStruct runs struct tag validation on any value
func (v *Validator) ValidateStruct(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return v.wrap(err)
	}
	return nil
}

// HasMarkup reports whether s contains HTML the strict policy would strip.
// Plain text such as "Tom & Jerry <3" only gets escaped, so it is not markup.
func (v *Validator) HasMarkup(s string) bool {
	return html.UnescapeString(v.sanitizer.Sanitize(s)) != s
}

// CheckText rejects a user-supplied string containing markup
func (v *Validator) CheckText(field, s string) error {
	if v.HasMarkup(s) {
		return fmt.Errorf("validation failed: '%s' must not contain markup", field)
	}
	return nil
}

func (v *Validator) wrap(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return formatValidationErrors(validationErrors)
	}
	return fmt.Errorf("validation failed: %w", err)
}

// mapToStruct: converts a payload map to a typed struct using JSON marshaling
func mapToStruct(data map[string]interface{}, target interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

func (v *Validator) checkValue(path string, value interface{}) error {
	switch val := value.(type) {
	case string:
		return v.CheckText(path, val)
	case map[string]interface{}:
		for key, item := range val {
			if err := v.CheckText(path+" key", key); err != nil {
				return err
			}
			if err := v.checkValue(path+"."+key, item); err != nil {
				return err
			}
		}
	case []interface{}:
		for i, item := range val {
			if err := v.checkValue(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	}
	return nil
}

// formatValidationErrors reports the first failing field
func formatValidationErrors(errs validator.ValidationErrors) error {
	return fmt.Errorf("validation failed: %s", formatSingleError(errs[0]))
}

func formatSingleError(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is required", field)
	case "min", "max", "len":
		return fmt.Sprintf("'%s' value out of allowed range", field)
	case "oneof":
		return fmt.Sprintf("'%s' must be one of [%s]", field, err.Param())
	case "elementid":
		return fmt.Sprintf("'%s' may only contain letters, digits, '-', '_', ':' and '.'", field)
	default:
		return fmt.Sprintf("'%s' is invalid", field)
	}
}
