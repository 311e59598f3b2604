package orgs

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

var orgNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("orgname", func(fl validator.FieldLevel) bool {
		return orgNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateOrganizationName checks an organization name without a full request.
func ValidateOrganizationName(name string) error {
	if !orgNamePattern.MatchString(name) {
		return apperrors.Validationf("invalid organization name %q: use 2-64 lowercase letters, digits, '-' or '_'", name)
	}
	return nil
}

func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.Validationf("validation failed: %v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return apperrors.Validationf("validation failed: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "orgname":
		return fmt.Sprintf("%s must be 2-64 lowercase letters, digits, '-' or '_'", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
