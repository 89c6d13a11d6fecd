// Package util carries small cross-cutting helpers: log sanitization
// and validated JSON decoding.
package util

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// AnyToStruct re-encodes obj (raw JSON bytes or any marshalable
// value) into T and validates the result's struct tags.
func AnyToStruct[T any](obj interface{}) (*T, error) {
	var err error
	asJson, ok := obj.([]byte)
	if !ok {
		asJson, err = json.Marshal(obj)
		if err != nil {
			return nil, err
		}
	}
	var result T
	if err = json.Unmarshal(asJson, &result); err != nil {
		return nil, err
	}
	if err = validate.Struct(result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateStruct checks the validate tags on an already-built value.
func ValidateStruct(v interface{}) error {
	return validate.Struct(v)
}
