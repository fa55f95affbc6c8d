package application

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-cadmark/internal/domain"
)

// newConfigValidator returns a validator with the grading-specific rules
// registered.
func newConfigValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := RegisterConfigValidators(v); err != nil {
		return nil, err
	}
	return v, nil
}

// RegisterConfigValidators adds the custom tags used by Config:
//
//	fileext      a file extension such as ".step"
//	scale        a domain.Scale that passes Scale.Validate
//	placeholder  an argv template containing {param}
//	listenaddr   a host:port listen address; the host may be empty
func RegisterConfigValidators(v *validator.Validate) error {
	validators := map[string]validator.Func{
		"fileext":     validateFileExt,
		"scale":       validateScale,
		"placeholder": validatePlaceholder,
		"listenaddr":  validateListenAddr,
	}
	for tag, fn := range validators {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateFileExt accepts a leading dot followed by at least one character
// and no path separators.
func validateFileExt(fl validator.FieldLevel) bool {
	ext := fl.Field().String()
	if len(ext) < 2 || ext[0] != '.' {
		return false
	}
	return !strings.ContainsAny(ext[1:], `./\ `)
}

func validateScale(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(domain.Scale)
	if !ok {
		return false
	}
	return s.Validate() == nil
}

// validatePlaceholder requires at least one argument of a []string
// template to reference {param}.
func validatePlaceholder(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.Slice {
		return false
	}
	token := "{" + fl.Param() + "}"
	for i := range field.Len() {
		if strings.Contains(field.Index(i).String(), token) {
			return true
		}
	}
	return false
}

func validateListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

// firstFieldError names the first field that failed validation, using the
// struct namespace without the root type, for example "Export.Command".
func firstFieldError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "config"
	}
	ns := verrs[0].StructNamespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
