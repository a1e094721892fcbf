// Package validate provides request validation using go-playground/validator.
package validate

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	instance *validator.Validate //nolint:gochecknoglobals
	once     sync.Once           //nolint:gochecknoglobals
)

// Validator returns the singleton validator instance.
func Validator() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		registerTagNameFunc(instance)
		registerDatabaseName(instance)
	})

	return instance
}

// databaseNameForbidden are the characters MongoDB forbids in database
// names. They cannot be expressed with excludesall: validator decodes only
// 0x2C and 0x7C in tag params, everything else is taken literally.
const databaseNameForbidden = `/\. "$`

func registerDatabaseName(v *validator.Validate) {
	err := v.RegisterValidation("db_name", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), databaseNameForbidden)
	})
	if err != nil {
		panic(err)
	}
}

// registerTagNameFunc uses JSON tag names in error messages.
func registerTagNameFunc(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}

		return name
	})
}

// Struct validates a struct using the singleton validator.
func Struct(s any) error {
	return TranslateErrors(Validator().Struct(s))
}
