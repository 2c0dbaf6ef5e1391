package manifest

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func getValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// Validate checks a decoded Manifest against its struct-tag constraints:
// msize/walk_depth ceilings, oneof enums for policy strings, and required
// ticket role/secret pairs. Mirrors dittofs's pkg/config validation style
// (go-playground/validator struct tags on the Config tree).
func Validate(m *Manifest) error {
	return getValidator().Struct(m)
}
