package service

import "fmt"

// State is the backend lifecycle phase.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateStarted
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateStarted:
		return "Started"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Status is the aggregate connectivity summary of the backend.
type Status struct {
	State State
	// Connected and Total count screens; only meaningful when Started.
	Connected int
	Total     int
	// FirstError is the last error of the first disconnected screen in
	// the order screens were added.
	FirstError string
}

// Nominal reports whether the backend is running with every keyboard
// connected.
func (s Status) Nominal() bool {
	return s.State == StateStarted && s.Connected == s.Total
}

// CanStop reports whether the backend accepts a stop request.
func (s Status) CanStop() bool { return s.State == StateStarted }

// Summary is a one-line status. With a single disconnected screen it is
// that screen's error verbatim.
func (s Status) Summary() string {
	switch {
	case s.State != StateStarted:
		return s.State.String()
	case s.Nominal():
		return "nominal"
	case s.Total == 1:
		if s.FirstError == "" {
			return "keyboard not connected"
		}
		return s.FirstError
	case s.FirstError == "":
		return fmt.Sprintf("%d/%d keyboards connected", s.Connected, s.Total)
	default:
		return fmt.Sprintf("%d/%d keyboards connected: %s", s.Connected, s.Total, s.FirstError)
	}
}

// Message is the user-facing warning for the status, empty when nominal.
func (s Status) Message() string {
	switch s.State {
	case StateStopped:
		return "The Gnome15 desktop service is not running. It is recommended you add g15-desktop-service as a Startup Application."
	case StateStarting:
		return "The Gnome15 desktop service is starting up. Please wait"
	case StateStopping:
		return "The Gnome15 desktop service is stopping."
	}
	if s.Nominal() {
		return ""
	}
	if s.Total == 1 {
		return "The Gnome15 desktop service is running, but failed to connect to the keyboard driver. The error message given was " + s.FirstError
	}
	return fmt.Sprintf("The Gnome15 desktop service is running, but only %d out of %d keyboards are connected. The first error message given was %s",
		s.Connected, s.Total, s.FirstError)
}
