package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"gitlab.com/timkado/api/leads-router/internal/apperrors"
)

// MaxTelegramTextLength is the Bot API limit for sendMessage text, in characters.
const MaxTelegramTextLength = 4096

var (
	validate *validator.Validate
	once     sync.Once
)

// Get returns the shared validator. Field names in errors use json tags.
func Get() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("tgtext", func(fl validator.FieldLevel) bool {
			text := fl.Field().String()
			return strings.TrimSpace(text) != "" && utf8.RuneCountInString(text) <= MaxTelegramTextLength
		})
	})
	return validate
}

// Validate checks s and returns an error wrapping apperrors.ErrValidation.
func Validate(s interface{}) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, fmt.Sprintf("field '%s' %s", e.Field(), getErrorMessage(e)))
	}

	return fmt.Errorf("%w: %s", apperrors.ErrValidation, strings.Join(messages, "; "))
}

func getErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "tgtext":
		return fmt.Sprintf("must be non-blank and at most %d characters", MaxTelegramTextLength)
	default:
		return fmt.Sprintf("failed '%s' validation", e.Tag())
	}
}
