package todo

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MaxTitleLength is in runes and must match the max in Input's validate tag.
const MaxTitleLength = 100

// Input is the raw create request.
type Input struct {
	Title string `json:"title" validate:"required,max=100"`
}

// UpdateInput is a partial update. Omitted fields are nil.
type UpdateInput struct {
	Title     *string `json:"title,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func schema() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// ValidateInput trims the title and checks its length.
func ValidateInput(in Input) (Input, error) {
	out := Input{Title: strings.TrimSpace(in.Title)}
	if fields := checkStruct(out); len(fields) > 0 {
		return Input{}, &ValidationError{Fields: fields}
	}
	return out, nil
}

// ValidateUpdate checks only the fields that are present. It never fills in
// a value for an omitted field.
func ValidateUpdate(in UpdateInput) (UpdateInput, error) {
	var out UpdateInput
	if in.Title != nil {
		title := Input{Title: strings.TrimSpace(*in.Title)}
		if fields := checkStruct(title); len(fields) > 0 {
			return UpdateInput{}, &ValidationError{Fields: fields}
		}
		out.Title = &title.Title
	}
	if in.Completed != nil {
		completed := *in.Completed
		out.Completed = &completed
	}
	return out, nil
}

func checkStruct(v any) []FieldError {
	err := schema().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Message: err.Error()}}
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " must be " + fe.Param() + " characters or fewer"
	}
	return fe.Field() + " is invalid"
}
