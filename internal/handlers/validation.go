package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/BradenHooton/parlourguard/internal/models"
)

// validate is shared by every handler. Field names in errors follow the json tags, and the
// domain enums get their own tags so a request never reaches a service with an unknown value.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	enums := map[string]func(string) bool{
		"challenge_type": func(s string) bool { return models.ChallengeType(s).Valid() },
		"audit_event":    func(s string) bool { return models.AuditEventType(strings.ToUpper(s)).Valid() },
		"audit_severity": func(s string) bool { return models.AuditSeverity(strings.ToUpper(s)).Valid() },
		"audit_status":   func(s string) bool { return models.AuditStatus(strings.ToUpper(s)).Valid() },
	}
	for tag, valid := range enums {
		valid := valid
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return valid(fl.Field().String())
		})
	}

	return v
}

// ValidateRequest validates a request struct and reports the first offending field as a
// *models.ValidationError
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return &models.ValidationError{Field: ve[0].Field(), Message: formatValidationError(ve[0])}
	}
	return &models.ValidationError{Message: "invalid request"}
}

// validateParam checks a single path or query value
func validateParam(field, value, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return &models.ValidationError{Field: field, Message: formatValidationError(ve[0])}
		}
		return &models.ValidationError{Field: field, Message: "invalid value"}
	}
	return nil
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "uuid":
		return "must be a valid id"
	case "ip":
		return "must be a valid IP address"
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "challenge_type":
		return "must be one of CAPTCHA, EMAIL_VERIFICATION, PHONE_VERIFICATION, ADMIN_APPROVAL"
	case "audit_event", "audit_severity", "audit_status":
		return fmt.Sprintf("unknown value %q", fe.Value())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
