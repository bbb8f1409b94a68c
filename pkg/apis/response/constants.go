package response

type ErrCode int

const (
	_                          ErrCode = 10000 + iota
	ErrCodeMalformedJSON               // 10001
	ErrCodeRequestBody                 // 10002
	ErrCodeResourceExists              // 10003
	ErrCodeResourceNotFound            // 10004
	ErrCodeLegalActionNotFound         // 10005
	ErrCodeOperationRejected           // 10006
	ErrCodeBusy                        // 10007
	ErrCodeInvalidConfig               // 10008
	ErrCodeLinkUnavailable             // 10009
	ErrCodeOperationFailed             // 10010
)

// Codes are part of the HTTP contract. Append new codes at the end and add
// the message to the errors table in the same order.
