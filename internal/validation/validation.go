// Package validation wraps the struct validator shared by request decoding
// and classifier payload checks. Fields are reported by their json name.
package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Struct runs the validate tags of s. A failure is validator.ValidationErrors.
func Struct(s any) error {
	return validate.Struct(s)
}

// First returns the first field error carried by err.
func First(err error) (validator.FieldError, bool) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return ve[0], true
	}
	return nil, false
}

// Path is the json path of fe below the root struct, e.g.
// "detectedItems[0].name".
func Path(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
