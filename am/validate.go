package am

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/teranos/mintdoi/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config key rather than the Go field name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the configuration is complete enough to run a batch.
// Every failure is marked ErrInvalidConfig and names the config key and its
// environment variable.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Mark(errors.Wrap(err, "validate config"), errors.ErrInvalidConfig)
	}

	var result error
	for _, fe := range verrs {
		key := configKey(fe.Namespace())
		ferr := errors.NewConfigError("%s %s", key, describe(fe))
		if env := EnvName(key); env != "" {
			ferr = errors.WithHintf(ferr, "set %s or %s in %s", env, key, ConfigFileName)
		}
		if result == nil {
			result = ferr
		} else {
			result = errors.WithSecondaryError(result, ferr)
		}
	}
	return result
}

// configKey turns "Config.repository.endpoint" into "repository.endpoint"
func configKey(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be an absolute URL"
	case "gt":
		return "must be > " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "gtefield":
		return "must be >= " + fe.Param()
	case "startswith":
		return "must start with " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
