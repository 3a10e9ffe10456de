package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"xcoffee/internal/models"
)

const waitTimeout = 3 * time.Second

func writeStreamHeader(w http.ResponseWriter) http.Flusher {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)

	f := w.(http.Flusher)
	f.Flush()
	return f
}

func writePart(w http.ResponseWriter, f http.Flusher, body string) {
	fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n%s\r\n", len(body), body)
	f.Flush()
}

func testOptions(url string) Options {
	return Options{
		URL:            url,
		ReconnectDelay: 20 * time.Millisecond,
		ConnectTimeout: time.Second,
		MaxFrameBytes:  1 << 20,
	}
}

func waitFrame(t *testing.T, ch <-chan models.Frame) models.Frame {
	t.Helper()

	select {
	case f, ok := <-ch:
		require.True(t, ok, "frame channel closed")
		return f
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for frame")
	}
	return models.Frame{}
}

func waitStatus(t *testing.T, ch <-chan models.Status, kind models.StatusKind) models.Status {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case st, ok := <-ch:
			require.True(t, ok, "status channel closed before %s", kind)
			if st.Kind == kind {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", kind)
		}
	}
}

func TestHTTPStreamerDeliversFrames(t *testing.T) {
	next := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := writeStreamHeader(w)
		for i := 1; i <= 3; i++ {
			writePart(w, f, fmt.Sprintf("jpeg-%d", i))
			select {
			case <-next:
			case <-r.Context().Done():
				return
			}
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := NewHTTPStreamer(testOptions(srv.URL))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, models.StatusConnected, waitStatus(t, s.StatusChan(), models.StatusConnected).Kind)

	for i := 1; i <= 3; i++ {
		f := waitFrame(t, s.FrameChan())
		assert.Equal(t, fmt.Sprintf("jpeg-%d", i), string(f.Data))
		assert.Equal(t, uint64(i), f.Seq)
		assert.False(t, f.ReceivedAt.IsZero())
		next <- struct{}{}
	}

	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.FramesReceived)
	assert.Equal(t, uint64(0), stats.FramesDropped)
	assert.Equal(t, uint64(1), stats.Connections)
}

func TestHTTPStreamerReconnectsAfterStreamEnds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		f := writeStreamHeader(w)
		writePart(w, f, "only")
	}))
	defer srv.Close()

	s := NewHTTPStreamer(testOptions(srv.URL))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	statuses := s.StatusChan()
	waitStatus(t, statuses, models.StatusConnecting)
	waitStatus(t, statuses, models.StatusConnected)
	ended := waitStatus(t, statuses, models.StatusStreamEnded)
	assert.Equal(t, "Stream ended. Reconnecting...", ended.Text)
	waitStatus(t, statuses, models.StatusReconnecting)
	waitStatus(t, statuses, models.StatusConnected)

	assert.GreaterOrEqual(t, hits.Load(), int32(2))
	assert.GreaterOrEqual(t, s.Stats().Reconnects, uint64(1))
}

func TestHTTPStreamerBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewHTTPStreamer(testOptions(srv.URL))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	st := waitStatus(t, s.StatusChan(), models.StatusStreamError)
	assert.Equal(t, "Connection failed with status: 503 Service Unavailable", st.Text)

	var statusErr *StatusError
	require.ErrorAs(t, st.Err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}

func TestHTTPStreamerRejectsNonMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8, 0xff, 0xd9})
	}))
	defer srv.Close()

	s := NewHTTPStreamer(testOptions(srv.URL))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	st := waitStatus(t, s.StatusChan(), models.StatusStreamError)
	assert.ErrorIs(t, st.Err, ErrNoBoundary)
	assert.True(t, st.IsError())
}

func TestHTTPStreamerConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := NewHTTPStreamer(testOptions(url))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	st := waitStatus(t, s.StatusChan(), models.StatusStreamError)
	assert.Contains(t, st.Text, "Connection error: ")
}

func TestHTTPStreamerDropsStaleFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := writeStreamHeader(w)
		for i := 1; i <= 5; i++ {
			writePart(w, f, fmt.Sprintf("jpeg-%d", i))
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := NewHTTPStreamer(testOptions(srv.URL))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.Stats().FramesReceived == 5
	}, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, uint64(4), s.Stats().FramesDropped)
	assert.Equal(t, "jpeg-5", string(waitFrame(t, s.FrameChan()).Data))
}

func TestHTTPStreamerStallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStreamHeader(w)
		<-r.Context().Done()
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.StallTimeout = 50 * time.Millisecond

	s := NewHTTPStreamer(opts)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	st := waitStatus(t, s.StatusChan(), models.StatusStreamError)
	assert.ErrorIs(t, st.Err, ErrStalled)
}

func TestHTTPStreamerStopReleasesEverything(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStreamHeader(w)
		<-r.Context().Done()
	}))

	s := NewHTTPStreamer(testOptions(srv.URL))
	require.NoError(t, s.Start(context.Background()))
	waitStatus(t, s.StatusChan(), models.StatusConnected)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(waitTimeout):
		t.Fatal("Stop did not return")
	}

	_, ok := <-s.FrameChan()
	assert.False(t, ok, "frame channel should be closed")

	s.Stop()
	srv.Close()
}

func TestHTTPStreamerStopDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.ReconnectDelay = time.Hour

	s := NewHTTPStreamer(opts)
	require.NoError(t, s.Start(context.Background()))
	waitStatus(t, s.StatusChan(), models.StatusStreamError)

	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPStreamerStartTwice(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	s := NewHTTPStreamer(testOptions(srv.URL))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.True(t, errors.Is(s.Start(context.Background()), ErrAlreadyStarted))
}

func TestHTTPStreamerStopWithoutStart(t *testing.T) {
	s := NewHTTPStreamer(testOptions("http://127.0.0.1:1"))
	assert.NotPanics(t, s.Stop)
}

func TestHTTPStreamerStopBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStreamHeader(w)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := NewHTTPStreamer(testOptions(srv.URL))
	s.Stop()

	require.NoError(t, s.Start(context.Background()))
	waitStatus(t, s.StatusChan(), models.StatusConnected)
	s.Stop()

	select {
	case _, ok := <-s.FrameChan():
		assert.False(t, ok, "frame channel should be closed")
	case <-time.After(waitTimeout):
		t.Fatal("Stop after an early Stop did not end the loop")
	}
}

func TestOfferKeepsNewest(t *testing.T) {
	ch := make(chan int, 1)

	assert.False(t, Offer(ch, 1))
	assert.True(t, Offer(ch, 2))
	assert.True(t, Offer(ch, 3))
	assert.Equal(t, 3, <-ch)
}
