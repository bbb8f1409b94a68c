package response

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// responseError is one entry of the error envelope. Err keeps the cause
// for logs and errors.Is, it is never serialized.
type responseError struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
	Err     error   `json:"-"`
}

func (re *responseError) Error() string {
	if re == nil {
		return ""
	}
	return fmt.Sprintf("%d: %s", re.Code, re.Message)
}

func (re *responseError) GetCode() ErrCode {
	if re == nil {
		return 0
	}
	return re.Code
}

func (re *responseError) Unwrap() error {
	return re.Err
}

// MultiError is the body of every failed request: {"errors": [...]}.
// All its methods are goroutine safe.
type MultiError struct {
	mtx    sync.Mutex
	errors []error
}

func NewMultiError(err ...error) *MultiError {
	return &MultiError{
		errors: err,
	}
}

func (e *MultiError) Add(err ...error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	e.errors = append(e.errors, err...)
}

func (e *MultiError) Len() int {
	if e == nil {
		return 0
	}
	e.mtx.Lock()
	defer e.mtx.Unlock()

	return len(e.errors)
}

// Errors returns a copy of the collected errors.
func (e *MultiError) Errors() []error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	return append(make([]error, 0, len(e.errors)), e.errors...)
}

// MarshalJSON renders plain errors with code 0 so every entry has the
// same shape.
func (e *MultiError) MarshalJSON() ([]byte, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	entries := make([]*responseError, 0, len(e.errors))
	for _, err := range e.errors {
		if re, ok := err.(*responseError); ok {
			entries = append(entries, re)
			continue
		}
		entries = append(entries, &responseError{Message: err.Error(), Err: err})
	}
	return json.Marshal(struct {
		Errors []*responseError `json:"errors"`
	}{
		Errors: entries,
	})
}

func (e *MultiError) UnmarshalJSON(bytes []byte) error {
	errs := struct {
		Errors []*responseError `json:"errors"`
	}{}
	if err := json.Unmarshal(bytes, &errs); err != nil {
		return err
	}
	for _, err := range errs.Errors {
		e.Add(err)
	}
	return nil
}

func (e *MultiError) Error() string {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	es := make([]string, 0, len(e.errors))
	for _, err := range e.errors {
		es = append(es, err.Error())
	}
	return strings.Join(es, "; ")
}

func generateError(code ErrCode, s ...interface{}) *responseError {
	return &responseError{
		Code:    code,
		Message: fmt.Sprintf(errors[code], s...),
	}
}

func generateErrorWrapper(code ErrCode, err error, s ...interface{}) *responseError {
	re := generateError(code, s...)
	re.Err = err
	return re
}

func ErrResourceNotFound(resource string) *responseError {
	return generateError(ErrCodeResourceNotFound, resource)
}
func ErrOperationRejected(operation string, err error) *responseError {
	return generateErrorWrapper(ErrCodeOperationRejected, err, operation, err.Error())
}
func ErrInvalidConfig(err error) *responseError {
	return generateErrorWrapper(ErrCodeInvalidConfig, err, err.Error())
}
func ErrOperationFailed(operation string, err error) *responseError {
	return generateErrorWrapper(ErrCodeOperationFailed, err, operation, err.Error())
}
