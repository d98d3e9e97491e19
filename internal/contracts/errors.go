package contracts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoSession         = errors.New("no active wallet session")
	ErrNoSharedSecret    = errors.New("no shared secret established with wallet")
	ErrWalletUnavailable = errors.New("wallet app could not be opened; install or update the wallet and retry")
)

const (
	ErrorCategoryPrecondition = "precondition"
	ErrorCategoryDecryption   = "decryption"
	ErrorCategoryDispatch     = "dispatch"
	ErrorCategoryRemote       = "remote"
	ErrorCategoryMalformedURL = "malformed_url"
)

// CategorizedError attaches one of the protocol error categories to err.
type CategorizedError struct {
	Category string
	Err      error
}

func (e *CategorizedError) Error() string {
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// RemoteError is an error reported by the wallet through errorCode/errorMessage.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("wallet error %s: %s", e.Code, e.Message)
}

func normalizeErrorCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case ErrorCategoryDecryption:
		return ErrorCategoryDecryption
	case ErrorCategoryDispatch:
		return ErrorCategoryDispatch
	case ErrorCategoryRemote:
		return ErrorCategoryRemote
	case ErrorCategoryMalformedURL:
		return ErrorCategoryMalformedURL
	default:
		return ErrorCategoryPrecondition
	}
}

func WrapCategorizedError(category string, err error) error {
	if err == nil {
		return nil
	}
	var existing *CategorizedError
	if errors.As(err, &existing) {
		return &CategorizedError{
			Category: normalizeErrorCategory(existing.Category),
			Err:      existing.Err,
		}
	}
	return &CategorizedError{
		Category: normalizeErrorCategory(category),
		Err:      err,
	}
}

// ErrorCategory reports the category of err. Uncategorized errors are
// reported as precondition failures since those are the only errors raised
// before any wallet interaction.
func ErrorCategory(err error) string {
	var classified *CategorizedError
	if errors.As(err, &classified) {
		return normalizeErrorCategory(classified.Category)
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return ErrorCategoryRemote
	}
	return ErrorCategoryPrecondition
}

func Precondition(err error) error {
	return WrapCategorizedError(ErrorCategoryPrecondition, err)
}

func Decryption(err error) error {
	return WrapCategorizedError(ErrorCategoryDecryption, err)
}

func Dispatch(err error) error {
	return WrapCategorizedError(ErrorCategoryDispatch, err)
}

func MalformedURL(err error) error {
	return WrapCategorizedError(ErrorCategoryMalformedURL, err)
}
