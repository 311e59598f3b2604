package users

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

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
	return v
}

// normalizeEmail lowercases and trims an address so lookups are case insensitive
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCreate(req *CreateUserRequest) error {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = normalizeEmail(req.Email)
	if req.Username == "" {
		return apperrors.Validationf("name cannot be empty")
	}
	return validateStruct(req)
}

func validateUpdate(req *UpdateUserRequest) error {
	if req.Username != nil {
		name := strings.TrimSpace(*req.Username)
		if name == "" {
			return apperrors.Validationf("name cannot be empty")
		}
		req.Username = &name
	}
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		req.Email = &email
	}
	return validateStruct(req)
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
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email address", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return apperrors.Validationf("validation failed: %s", strings.Join(msgs, "; "))
}
