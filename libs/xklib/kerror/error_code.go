package kerror

type ErrorCode string

const (
	EC_OK                ErrorCode = "OK"
	EC_UNKNOWN           ErrorCode = "UNKNOWN"
	EC_NOT_FOUND         ErrorCode = "NOT_FOUND"
	EC_INVALID_PARAMETER ErrorCode = "INVALID_PARAMETER"
	EC_CONFLICT          ErrorCode = "CONFLICT"
	EC_INTERNAL_ERROR    ErrorCode = "INTERNAL_ERROR"
	EC_TIMEOUT           ErrorCode = "TIMEOUT"
	EC_RETRYABLE         ErrorCode = "RETRYABLE"
)

var httpErrorCodeMap = map[ErrorCode]int{
	EC_OK:                200,
	EC_UNKNOWN:           500,
	EC_NOT_FOUND:         404,
	EC_INVALID_PARAMETER: 400,
	EC_CONFLICT:          409,
	EC_INTERNAL_ERROR:    503,
	EC_TIMEOUT:           408,
	EC_RETRYABLE:         429,
}

func (code ErrorCode) String() string {
	return string(code)
}

func (code ErrorCode) ToHttpErrorCode() int {
	if status, ok := httpErrorCodeMap[code]; ok {
		return status
	}
	return 503
}
