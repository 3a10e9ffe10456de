package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"xcoffee/internal/logger"
	"xcoffee/internal/models"
)

var (
	ErrStreamEnded    = errors.New("stream ended")
	ErrStalled        = errors.New("stream stalled")
	ErrAlreadyStarted = errors.New("streamer already started")
)

// StatusError reports a non-2xx response from the stream endpoint.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return e.Status
}

type Options struct {
	URL            string
	ReconnectDelay time.Duration
	ConnectTimeout time.Duration
	StallTimeout   time.Duration
	MaxFrameBytes  int

	// Client overrides the transport built from ConnectTimeout.
	Client *http.Client
}

// HTTPStreamer pulls an MJPEG stream over HTTP and reconnects after a fixed
// delay whenever the connection fails or the body ends.
type HTTPStreamer struct {
	mu       sync.Mutex
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}

	opts   Options
	client *http.Client
	log    *zerolog.Logger

	frameChan  chan models.Frame
	statusChan chan models.Status

	seq            atomic.Uint64
	framesReceived atomic.Uint64
	framesDropped  atomic.Uint64
	connections    atomic.Uint64
	reconnects     atomic.Uint64
}

func NewHTTPStreamer(opts Options) *HTTPStreamer {
	client := opts.Client
	if client == nil {
		client = newStreamingClient(opts.ConnectTimeout)
	}

	return &HTTPStreamer{
		opts:       opts,
		client:     client,
		log:        logger.WithComponent("capture"),
		done:       make(chan struct{}),
		frameChan:  make(chan models.Frame, 1),
		statusChan: make(chan models.Status, 8),
	}
}

// newStreamingClient bounds connection setup only. A client-wide Timeout
// would cut the never-ending body.
func newStreamingClient(connectTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: connectTimeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

func (s *HTTPStreamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(ctx)

	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly.
// Before Start it does nothing.
func (s *HTTPStreamer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	s.stopOnce.Do(func() {
		cancel()
		<-s.done
	})
}

func (s *HTTPStreamer) FrameChan() <-chan models.Frame   { return s.frameChan }
func (s *HTTPStreamer) StatusChan() <-chan models.Status { return s.statusChan }

func (s *HTTPStreamer) Stats() Stats {
	return Stats{
		FramesReceived: s.framesReceived.Load(),
		FramesDropped:  s.framesDropped.Load(),
		Connections:    s.connections.Load(),
		Reconnects:     s.reconnects.Load(),
	}
}

func (s *HTTPStreamer) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.frameChan)
	defer close(s.statusChan)

	s.emit(models.Connecting())

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			s.log.Debug().Msg("streamer stopped")
			return
		}

		s.log.Warn().Err(err).Dur("delay", s.opts.ReconnectDelay).Msg("stream interrupted, waiting to reconnect")

		if !sleepCtx(ctx, s.opts.ReconnectDelay) {
			return
		}

		s.reconnects.Add(1)
		s.emit(models.Reconnecting())
	}
}

// session performs one connect-and-read cycle. The returned error is always
// non-nil and has already been reported on the status channel.
func (s *HTTPStreamer) session(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		s.emit(models.StreamError("Connection error", err))
		return err
	}
	req.Header.Set("Accept", "multipart/x-mixed-replace, image/jpeg")

	s.log.Info().Str("url", s.opts.URL).Msg("connecting to stream")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			s.emit(models.StreamError("Connection error", err))
		}
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Code: resp.StatusCode, Status: resp.Status}
		s.emit(models.StreamError("Connection failed with status", statusErr))
		return statusErr
	}

	boundary, err := ParseBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		s.emit(models.StreamError("Stream error", err))
		return err
	}

	s.connections.Add(1)
	s.log.Info().Str("boundary", boundary).Msg("connected")
	s.emit(models.Connected())

	body := io.Reader(resp.Body)
	var stalled atomic.Bool
	if s.opts.StallTimeout > 0 {
		w := newStallWatchdog(resp.Body, s.opts.StallTimeout, func() {
			stalled.Store(true)
			cancel()
		})
		defer w.stop()
		body = w
	}

	splitter := NewSplitter(body, boundary, s.opts.MaxFrameBytes)

	for {
		part, err := splitter.Next()
		if err != nil {
			switch {
			case stalled.Load():
				err = fmt.Errorf("%w: no data for %s", ErrStalled, s.opts.StallTimeout)
				s.emit(models.StreamError("Stream error", err))
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, io.EOF):
				s.emit(models.StreamEnded())
				return ErrStreamEnded
			default:
				s.emit(models.StreamError("Stream error", err))
			}
			return err
		}

		frame := models.Frame{
			Seq:        s.seq.Add(1),
			Data:       part.Body,
			ReceivedAt: time.Now(),
		}
		s.framesReceived.Add(1)

		if Offer(s.frameChan, frame) {
			s.framesDropped.Add(1)
		}

		s.log.Debug().Uint64("seq", frame.Seq).Int("bytes", len(frame.Data)).Msg("frame received")
	}
}

func (s *HTTPStreamer) emit(st models.Status) {
	Offer(s.statusChan, st)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// stallWatchdog fires onStall when no bytes arrive within timeout.
type stallWatchdog struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newStallWatchdog(r io.Reader, timeout time.Duration, onStall func()) *stallWatchdog {
	return &stallWatchdog{
		r:       r,
		timeout: timeout,
		timer:   time.AfterFunc(timeout, onStall),
	}
}

func (w *stallWatchdog) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if n > 0 {
		w.timer.Reset(w.timeout)
	}
	return n, err
}

func (w *stallWatchdog) stop() {
	w.timer.Stop()
}
