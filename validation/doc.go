// Package validation validates configuration and job definition structs
// with go-playground/validator struct tags and reports failures as
// INVALID_INPUT application errors with per-field details.
//
//	type stepDef struct {
//	    ID string `yaml:"id" validate:"required,identifier"`
//	}
//	err := validation.Validate(def)
package validation
