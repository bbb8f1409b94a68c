package runtime

import (
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// MaxLabelLength bounds free-text labels kept in object metadata.
const MaxLabelLength = 64

type ValidateTextFunc func(value string) []string

// TextLength accepts values up to MaxLabelLength bytes.
func TextLength(value string) []string {
	if len(value) > MaxLabelLength {
		return []string{validation.MaxLenError(MaxLabelLength)}
	}
	return nil
}

// ValidateText requires a non-empty value accepted by every fn.
func ValidateText(path *field.Path, value string, fns ...ValidateTextFunc) field.ErrorList {
	var allErrs field.ErrorList
	if len(value) == 0 {
		return append(allErrs, field.Required(path, ""))
	}
	for _, fn := range fns {
		for _, msg := range fn(value) {
			allErrs = append(allErrs, field.Invalid(path, value, msg))
		}
	}
	return allErrs
}

// ValidateOptionalText is ValidateText without the presence check.
func ValidateOptionalText(path *field.Path, value string, fns ...ValidateTextFunc) field.ErrorList {
	if len(value) == 0 {
		return nil
	}
	return ValidateText(path, value, fns...)
}
