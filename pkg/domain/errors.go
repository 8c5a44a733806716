package domain

import "fmt"

// Error is a domain error kind carrying a stable numeric code, the HTTP
// status it maps to, and a human-readable description. The HTTP layer renders
// it as {error_code, message, status_code, description}.
type Error struct {
	Code        int    `json:"error_code"`
	Message     string `json:"message"`
	StatusCode  int    `json:"status_code"`
	Description string `json:"description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("error code %d: %s (%s)", e.Code, e.Message, e.Description)
}

// WithDescription returns a copy of the error with a more specific description.
// The code, message, and status are preserved so callers can still match on
// the kind with errors.Is.
func (e *Error) WithDescription(description string) *Error {
	clone := *e
	clone.Description = description
	return &clone
}

// Is matches by code so wrapped/re-described errors still compare equal.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// Authentication errors (1000-1999)
var (
	ErrInvalidCredentials = &Error{1000, "INVALID CREDENTIALS", 401, "Invalid credentials"}
	ErrUserAlreadyExists  = &Error{1001, "USER ALREADY EXISTS", 400, "User already exists"}
	ErrTokenExpired       = &Error{1002, "TOKEN EXPIRED", 401, "Authentication token has expired"}
	ErrInvalidToken       = &Error{1003, "INVALID TOKEN", 401, "Invalid authentication token"}
	ErrUnauthorizedAccess = &Error{1004, "UNAUTHORIZED ACCESS", 403, "User does not have permission to access this resource"}
)

// Validation errors (2000-2999)
var (
	ErrInvalidInput    = &Error{2000, "INVALID INPUT", 400, "The provided input is invalid"}
	ErrMissingField    = &Error{2001, "MISSING REQUIRED FIELD", 400, "A required field is missing"}
	ErrInvalidFileType = &Error{2002, "INVALID FILE TYPE", 400, "The uploaded file type is not supported"}
	ErrFileTooLarge    = &Error{2003, "FILE TOO LARGE", 400, "The uploaded file exceeds the maximum allowed size"}
)

// PDF processing errors (3000-3999)
var (
	ErrPDFUploadFailed    = &Error{3000, "PDF UPLOAD FAILED", 500, "Failed to upload PDF file"}
	ErrPDFNotFound        = &Error{3001, "PDF NOT FOUND", 404, "The requested PDF file was not found"}
	ErrPDFParseFailed     = &Error{3002, "PDF PARSE FAILED", 500, "Failed to parse PDF file"}
	ErrPDFAccessDenied    = &Error{3003, "PDF ACCESS DENIED", 403, "User does not have access to this PDF"}
	ErrPDFAlreadyParsed   = &Error{3004, "PDF ALREADY PARSED", 400, "PDF has already been parsed"}
	ErrPDFSelectionFailed = &Error{3005, "PDF SELECTION FAILED", 500, "Failed to select PDF for chat"}
)

// Database errors (4000-4999)
var (
	ErrDatabase        = &Error{4000, "DATABASE ERROR", 500, "An error occurred while accessing the database"}
	ErrRecordNotFound  = &Error{4001, "RECORD NOT FOUND", 404, "The requested record was not found"}
	ErrDuplicateRecord = &Error{4002, "DUPLICATE RECORD", 400, "A record with this information already exists"}
)

// Server errors (5000-5999)
var (
	ErrInternalServer     = &Error{5000, "INTERNAL SERVER ERROR", 500, "An unexpected error occurred"}
	ErrServiceUnavailable = &Error{5001, "SERVICE UNAVAILABLE", 503, "The service is temporarily unavailable"}
	ErrUnknownAPI         = &Error{5002, "UNKNOWN API ERROR", 500, "An unknown error occurred"}
)

// External API errors (6000-6999)
var (
	ErrExternalAPI = &Error{6000, "API ERROR", 500, "An error occurred while accessing the API"}
)

var errorsByCode = map[int]*Error{}

func init() {
	for _, e := range []*Error{
		ErrInvalidCredentials, ErrUserAlreadyExists, ErrTokenExpired, ErrInvalidToken, ErrUnauthorizedAccess,
		ErrInvalidInput, ErrMissingField, ErrInvalidFileType, ErrFileTooLarge,
		ErrPDFUploadFailed, ErrPDFNotFound, ErrPDFParseFailed, ErrPDFAccessDenied, ErrPDFAlreadyParsed, ErrPDFSelectionFailed,
		ErrDatabase, ErrRecordNotFound, ErrDuplicateRecord,
		ErrInternalServer, ErrServiceUnavailable, ErrUnknownAPI,
		ErrExternalAPI,
	} {
		errorsByCode[e.Code] = e
	}
}

// ErrorByCode resolves a numeric code to its error kind, falling back to the
// unknown-API kind for unregistered codes.
func ErrorByCode(code int) *Error {
	if e, ok := errorsByCode[code]; ok {
		return e
	}
	return ErrUnknownAPI
}
