package response

var errors = map[ErrCode]string{
	ErrCodeMalformedJSON:       "The JSON you provided was not well-formed or did not validate against our published format.",
	ErrCodeRequestBody:         "Request body error",
	ErrCodeResourceExists:      "Resource %s already exists.",
	ErrCodeResourceNotFound:    "Resource %s not found.",
	ErrCodeLegalActionNotFound: "Legal action not found.",
	ErrCodeOperationRejected:   "Operation %s rejected: %s",
	ErrCodeBusy:                "Another operation or plan is running.",
	ErrCodeInvalidConfig:       "Invalid configuration: %s",
	ErrCodeLinkUnavailable:     "Serial link unavailable.",
	ErrCodeOperationFailed:     "Operation %s failed: %s",
}

var ErrMalformedJSON = &responseError{
	Code:    ErrCodeMalformedJSON,
	Message: errors[ErrCodeMalformedJSON],
}

var ErrRequestBody = &responseError{
	Code:    ErrCodeRequestBody,
	Message: errors[ErrCodeRequestBody],
}

var ErrLegalActionNotFound = &responseError{
	Code:    ErrCodeLegalActionNotFound,
	Message: errors[ErrCodeLegalActionNotFound],
}

var ErrBusy = &responseError{
	Code:    ErrCodeBusy,
	Message: errors[ErrCodeBusy],
}

var ErrLinkUnavailable = &responseError{
	Code:    ErrCodeLinkUnavailable,
	Message: errors[ErrCodeLinkUnavailable],
}
