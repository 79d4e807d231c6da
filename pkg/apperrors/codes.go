package apperrors

type Code string

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeValidation          Code = "VALIDATION"
	CodeNotFound            Code = "NOT_FOUND"
	CodeAlreadyExists       Code = "ALREADY_EXISTS"
	CodeAuthorizationDenied Code = "AUTHORIZATION_DENIED"
	CodeTransientStore      Code = "TRANSIENT_STORE"
	CodeUnavailable         Code = "UNAVAILABLE"
)
