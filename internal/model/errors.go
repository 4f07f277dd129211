package model

// ValidationError is an input problem caught before any network call.
// Its message is meant for the user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
