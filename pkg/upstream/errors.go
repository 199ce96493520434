package upstream

import "fmt"

// ErrorClass represents a classification of upstream fetch errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses from the tile provider.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses from the tile provider.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport-level failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// FetchError describes a failed upstream fetch with enough context for the
// HTTP layer to pick a response status: transport failures map to 502,
// upstream status errors are propagated as-is.
type FetchError struct {
	URL        string
	StatusCode int // 0 for transport failures
	Class      ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error fetching %s: %v", e.Class, e.URL, e.Err)
	}
	return fmt.Sprintf("upstream %s error fetching %s: status %d", e.Class, e.URL, e.StatusCode)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(statusCode int) ErrorClass {
	if statusCode >= 500 {
		return ErrorClassServer
	}
	return ErrorClassClient
}
