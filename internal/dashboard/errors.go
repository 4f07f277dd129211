package dashboard

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"rollcall/internal/model"
	"rollcall/internal/remote"
)

// MsgGeneric is shown for transport and unexpected failures.
const MsgGeneric = "Server error, please try again"

var (
	// ErrNotLoggedIn is returned by operations that need the bearer credential.
	ErrNotLoggedIn = &model.ValidationError{Field: "login", Message: "Please log in first"}
	// ErrNoSession is returned by roster operations without an active session.
	ErrNoSession = &model.ValidationError{Field: "session", Message: "Start a session first"}
	// ErrSuperseded is returned when a newer session request or a logout
	// replaced the one in flight; its response was discarded.
	ErrSuperseded = errors.New("superseded by a newer request")
)

// DisplayMessage reduces any error to the text shown to the teacher:
// validation and service messages verbatim, everything else generic.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var se *remote.ServiceError
	if errors.As(err, &se) {
		return se.Message
	}
	if errors.Is(err, ErrSuperseded) {
		return "A newer request replaced this one"
	}
	return MsgGeneric
}

// ParseDuration validates the session length typed by the teacher.
func ParseDuration(input string) (float64, error) {
	minutes, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil || math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return 0, &model.ValidationError{Field: "durationMinutes", Message: "Duration must be a positive number"}
	}
	return minutes, nil
}
