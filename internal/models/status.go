package models

import "fmt"

type StatusKind int

const (
	StatusConnecting StatusKind = iota
	StatusConnected
	StatusStreamError
	StatusStreamEnded
	StatusReconnecting
	StatusFrameError
)

func (k StatusKind) String() string {
	switch k {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusStreamError:
		return "stream_error"
	case StatusStreamEnded:
		return "stream_ended"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFrameError:
		return "frame_error"
	default:
		return fmt.Sprintf("status(%d)", int(k))
	}
}

// Status is a human readable progress or failure notice for the status line.
type Status struct {
	Kind StatusKind
	Text string
	Err  error
}

func (s Status) String() string {
	return s.Text
}

// IsError reports whether the status describes a failure.
func (s Status) IsError() bool {
	return s.Kind == StatusStreamError || s.Kind == StatusFrameError
}

func Connecting() Status {
	return Status{Kind: StatusConnecting, Text: "Connecting to stream..."}
}

func Connected() Status {
	return Status{Kind: StatusConnected, Text: "Connected. Waiting for frame..."}
}

func Reconnecting() Status {
	return Status{Kind: StatusReconnecting, Text: "Reconnecting..."}
}

func StreamEnded() Status {
	return Status{Kind: StatusStreamEnded, Text: "Stream ended. Reconnecting..."}
}

// StreamError wraps err with the prefix shown in the status line.
func StreamError(prefix string, err error) Status {
	return Status{Kind: StatusStreamError, Text: fmt.Sprintf("%s: %v", prefix, err), Err: err}
}

func FrameError(err error) Status {
	return Status{Kind: StatusFrameError, Text: fmt.Sprintf("Frame error: %v", err), Err: err}
}
