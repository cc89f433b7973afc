package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is the shared validator instance
var Validate *validator.Validate

var (
	nodeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)
	threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:/@-]+$`)
)

// reservedNodeName is the terminal sentinel a node may not be named after.
const reservedNodeName = "__end__"

func init() {
	Validate = validator.New(validator.WithRequiredStructEnabled())

	Validate.RegisterValidation("node_name", validateNodeName)
	Validate.RegisterValidation("thread_id", validateThreadID)

	// Use JSON tags for field names
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "yaml"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})
}

// Struct validates s and returns ValidationErrors on failure.
func Struct(s any) error {
	if err := Validate.Struct(s); err != nil {
		if errs := formatValidationErrors(err); errs != nil {
			return errs
		}
		return err
	}
	return nil
}

// Var validates a single value against tag.
func Var(field string, v any, tag string) error {
	if err := Validate.Var(v, tag); err != nil {
		errs := formatValidationErrors(err)
		if errs == nil {
			return err
		}
		for i := range errs {
			errs[i].Field = field
		}
		return errs
	}
	return nil
}

// IsNodeName reports whether s is usable as a node name.
func IsNodeName(s string) bool {
	return nodeNamePattern.MatchString(s) && s != reservedNodeName
}

// formatValidationErrors converts validator errors to our custom format.
// It returns nil when err did not come from field validation.
func formatValidationErrors(err error) ValidationErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fieldPath(fe),
			Value:   fe.Value(),
			Message: getErrorMessage(fe),
		})
	}
	return out
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// getErrorMessage returns a human-readable error message
func getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("minimum value/length is %s", fe.Param())
	case "max":
		return fmt.Sprintf("maximum value/length is %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "required_if":
		return fmt.Sprintf("field is required when %s", fe.Param())
	case "hostname_port":
		return "must be a host:port address"
	case "node_name":
		return "must be a valid node name (letters, digits, '_', '-', '.', ':') and not the end sentinel"
	case "thread_id":
		return "must be a valid thread id"
	default:
		return fmt.Sprintf("validation failed: %s", fe.Tag())
	}
}

func validateNodeName(fl validator.FieldLevel) bool {
	return IsNodeName(fl.Field().String())
}

func validateThreadID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s != "" && len(s) <= 256 && threadIDPattern.MatchString(s) && !strings.Contains(s, "..")
}

// MarshalValidationErrors converts validation errors to JSON
func MarshalValidationErrors(errs ValidationErrors) ([]byte, error) {
	return json.Marshal(map[string]any{
		"valid":  false,
		"errors": errs,
		"count":  len(errs),
	})
}
