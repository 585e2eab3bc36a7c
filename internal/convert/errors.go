package convert

import "fmt"

// エラーコード
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeUnsupportedFile    = "UNSUPPORTED_FILE"
	CodeUnsupportedFormat  = "UNSUPPORTED_FORMAT"
	CodeLimitExceeded      = "LIMIT_EXCEEDED"
	CodeConversionFailed   = "CONVERSION_FAILED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
)

// Error はクライアントに返すエラーコードとメッセージを保持します。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
