// Package validate checks inbound event payloads with go-playground/validator.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
)

// Validator wraps a configured validator instance.
type Validator struct {
	cli *validator.Validate
}

// FieldError is one failed rule, named by the payload's JSON field.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

func (e FieldError) String() string {
	if e.Param != "" {
		return fmt.Sprintf("%s failed %s=%s", e.Field, e.Tag, e.Param)
	}
	return fmt.Sprintf("%s failed %s", e.Field, e.Tag)
}

// New returns a Validator that reports JSON field names and knows the "roomid" tag.
func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())

	cli.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	if err := cli.RegisterValidation("roomid", func(fl validator.FieldLevel) bool {
		_, err := models.ParseRoomID(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}

	return &Validator{cli: cli}
}

// Struct validates s. Failures wrap pkg.ErrBadRequest.
func (v *Validator) Struct(s any) error {
	err := v.cli.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}

	fields := v.fieldErrors(verrs)
	msgs := make([]string, len(fields))
	for i, f := range fields {
		msgs[i] = f.String()
	}
	return fmt.Errorf("%w: %s", pkg.ErrBadRequest, strings.Join(msgs, "; "))
}

func (v *Validator) fieldErrors(verrs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()})
	}
	return out
}
