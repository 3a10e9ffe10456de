package capture

import (
	"fmt"

	"xcoffee/internal/config"
)

func NewStreamer(cfg *config.Config) (VideoStreamer, error) {
	url := cfg.GetStreamURL()
	if err := config.ValidateStreamURL(url); err != nil {
		return nil, fmt.Errorf("cannot build streamer: %w", err)
	}

	return NewHTTPStreamer(Options{
		URL:            url,
		ReconnectDelay: cfg.ReconnectDelay,
		ConnectTimeout: cfg.ConnectTimeout,
		StallTimeout:   cfg.StallTimeout,
		MaxFrameBytes:  cfg.MaxFrameBytes,
	}), nil
}
