// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package validation wraps go-playground/validator v10 with one shared
// instance for the HTTP ingress and the configuration loader.
//
// Field names in errors come from the json tag, then the koanf tag, so
// messages match what the caller actually sent. Nested fields are rendered
// as a dotted path from the root struct, for example server.port:
//
//	type NotifyRequest struct {
//	    UserIDs []string `json:"user_ids" validate:"required,min=1,max=1000,dive,required"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    code, msg, details := verr.Envelope()
//	    ...
//	}
//
// The roomname tag accepts relay room names: no whitespace, slashes or
// control characters.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MaxRoomNameLength bounds relay room names.
const MaxRoomNameLength = 256

// ErrorCode is the envelope code for every validation failure.
const ErrorCode = "VALIDATION_ERROR"

// FieldError is one rejected field. Field is the dotted path below the
// validated struct.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// Errors is the set of rejected fields of one struct, in declaration order.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

// Envelope renders e for the HTTP error envelope. A single failure names
// its field directly; several are listed under "fields".
func (e Errors) Envelope() (code, message string, details map[string]any) {
	switch len(e) {
	case 0:
		return ErrorCode, "Validation failed", nil
	case 1:
		return ErrorCode, e[0].Message, map[string]any{"field": e[0].Field, "tag": e[0].Tag}
	}
	fields := make([]map[string]any, len(e))
	msgs := make([]string, len(e))
	for i, fe := range e {
		fields[i] = map[string]any{"field": fe.Field, "tag": fe.Tag, "message": fe.Message}
		msgs[i] = fe.Field + ": " + fe.Message
	}
	return ErrorCode, strings.Join(msgs, "; "), map[string]any{"fields": fields}
}

var (
	shared     *validator.Validate
	sharedOnce sync.Once
)

// Validator returns the shared instance.
func Validator() *validator.Validate {
	sharedOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(fieldName)
		if err := v.RegisterValidation("roomname", func(fl validator.FieldLevel) bool {
			return ValidRoomName(fl.Field().String())
		}); err != nil {
			panic(err)
		}
		shared = v
	})
	return shared
}

func fieldName(f reflect.StructField) string {
	for _, key := range []string{"json", "koanf"} {
		name, _, _ := strings.Cut(f.Tag.Get(key), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

// ValidRoomName reports whether name can be used as a relay room.
func ValidRoomName(name string) bool {
	if name == "" || len(name) > MaxRoomNameLength {
		return false
	}
	return strings.IndexFunc(name, func(r rune) bool {
		return r == '/' || unicode.IsSpace(r) || unicode.IsControl(r)
	}) < 0
}

// ValidateStruct validates s and returns nil or the rejected fields.
func ValidateStruct(s any) Errors {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Errors{{Field: "unknown", Tag: "unknown", Message: err.Error()}}
	}
	out := make(Errors, len(fieldErrs))
	for i, fe := range fieldErrs {
		path := fieldPath(fe)
		out[i] = FieldError{Field: path, Tag: fe.Tag(), Param: fe.Param(), Message: describe(fe, path)}
	}
	return out
}

// fieldPath drops the root struct name from the error namespace.
func fieldPath(fe validator.FieldError) string {
	if _, path, ok := strings.Cut(fe.Namespace(), "."); ok && path != "" {
		return path
	}
	return fe.Field()
}

func describe(fe validator.FieldError, f string) string {
	p := fe.Param()
	var items string
	switch fe.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		items = " items"
	case reflect.String:
		items = " characters"
	}
	switch fe.Tag() {
	case "required":
		return f + " is required"
	case "url":
		return f + " must be a valid URL"
	case "roomname":
		return f + " must be a valid room name"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", f, p)
	case "min", "gte":
		if items == "" {
			return fmt.Sprintf("%s must be at least %s", f, p)
		}
		return fmt.Sprintf("%s must contain at least %s%s", f, p, items)
	case "max", "lte":
		if items == "" {
			return fmt.Sprintf("%s must be at most %s", f, p)
		}
		return fmt.Sprintf("%s must contain at most %s%s", f, p, items)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", f, p)
	default:
		return fmt.Sprintf("%s failed %s validation", f, fe.Tag())
	}
}
