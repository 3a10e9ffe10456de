package models

import "time"

// Frame is one JPEG part lifted out of the multipart stream, still encoded.
type Frame struct {
	Seq        uint64
	Data       []byte
	ReceivedAt time.Time
}
