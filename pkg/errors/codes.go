package errors

type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeQuotaExceeded    Code = "QUOTA_EXCEEDED"
	CodeInvalid          Code = "INVALID"
	CodeExpired          Code = "EXPIRED"
	CodeExhausted        Code = "EXHAUSTED"
	CodeRevoked          Code = "REVOKED"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeInternal         Code = "INTERNAL"
)
