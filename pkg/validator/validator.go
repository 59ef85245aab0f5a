package validator

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// ValidationError describes one failed field rule.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects every failed rule from one struct validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, failure := range v {
		part := failure.Field + " failed on " + failure.Tag
		if failure.Param != "" {
			part += "=" + failure.Param
		}
		parts[i] = part
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct runs the registered rules against s. Field names in the
// returned failures follow the json tag, not the Go field name.
func ValidateStruct(s interface{}) error {
	err := get().Struct(s)
	if err == nil {
		return nil
	}

	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	failures := make(ValidationErrors, 0, len(ve))
	for _, fe := range ve {
		failures = append(failures, ValidationError{
			Field: fe.Field(),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return failures
}

// RegisterValidation adds a custom rule under the given tag.
func RegisterValidation(tag string, fn validator.Func) error {
	return get().RegisterValidation(tag, fn)
}

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New()
		instance.RegisterTagNameFunc(jsonFieldName)
	})
	return instance
}

func jsonFieldName(fld reflect.StructField) string {
	tag := fld.Tag.Get("json")
	if tag == "" || tag == "-" {
		return fld.Name
	}

	name := strings.SplitN(tag, ",", 2)[0]
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}
