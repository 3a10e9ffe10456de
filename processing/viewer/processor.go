package processing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"xcoffee/internal/config"
	"xcoffee/internal/logger"
	"xcoffee/internal/models"
	stream "xcoffee/processing/capture"
	"xcoffee/processing/filter"
)

// Output is an image ready for display. Refiltered marks a re-render of the
// frame already on screen after the filter was toggled.
type Output struct {
	Image      image.Image
	Refiltered bool
}

// Processor turns encoded frames from a streamer into display-ready images.
type Processor struct {
	InImageStream  stream.VideoStreamer
	OutImageStream chan Output
	OutStatus      chan models.Status

	cfg *config.Config
	log *zerolog.Logger

	trojan   atomic.Bool
	latency  atomic.Int64
	fps      atomic.Uint64
	isActive atomic.Bool

	statusMu sync.Mutex

	// outMu orders publishes from the frame loop and filter toggles.
	outMu      sync.Mutex
	lastSource image.Image
}

func NewProcessor(cfg *config.Config, in stream.VideoStreamer) *Processor {
	p := &Processor{
		InImageStream:  in,
		OutImageStream: make(chan Output, 1),
		OutStatus:      make(chan models.Status, 8),
		cfg:            cfg,
		log:            logger.WithComponent("viewer"),
	}
	p.trojan.Store(cfg.GetTrojanView())
	return p
}

// SetTrojanView switches the filter and re-renders the last frame, so the
// change shows even while the stream is down.
func (p *Processor) SetTrojanView(enabled bool) {
	p.cfg.SetTrojanView(enabled)
	if p.trojan.Swap(enabled) == enabled {
		return
	}

	p.outMu.Lock()
	defer p.outMu.Unlock()

	if p.lastSource == nil {
		return
	}

	out := Output{Image: p.render(p.lastSource), Refiltered: true}
	select {
	case prev := <-p.OutImageStream:
		// The frame it replaces was never shown.
		out.Refiltered = prev.Refiltered
	default:
	}
	stream.Offer(p.OutImageStream, out)
}

func (p *Processor) TrojanView() bool       { return p.trojan.Load() }
func (p *Processor) Latency() time.Duration { return time.Duration(p.latency.Load()) }
func (p *Processor) FPS() uint              { return uint(p.fps.Load()) }
func (p *Processor) IsActive() bool         { return p.isActive.Load() }

// Process decodes one frame and applies the Trojan filter when it is on.
func (p *Processor) Process(f models.Frame) (image.Image, error) {
	img, err := p.decode(f)
	if err != nil {
		return nil, err
	}
	return p.render(img), nil
}

func (p *Processor) decode(f models.Frame) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", f.Seq, err)
	}
	return img, nil
}

// render applies the filter when it is on. A filter failure leaves the
// frame untouched.
func (p *Processor) render(img image.Image) image.Image {
	if !p.trojan.Load() {
		return img
	}

	out, err := filter.Vintage(img, p.cfg.TrojanSize, p.cfg.JPEGQuality)
	if err != nil {
		p.log.Debug().Err(err).Msg("trojan filter failed, showing frame as is")
		return img
	}
	return out
}

func (p *Processor) publish(src image.Image) {
	p.outMu.Lock()
	defer p.outMu.Unlock()

	p.lastSource = src
	stream.Offer(p.OutImageStream, Output{Image: p.render(src)})
}

// Run starts the streamer and processes its output until ctx is done or the
// streamer shuts down.
func (p *Processor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := p.InImageStream.Start(ctx); err != nil {
		return fmt.Errorf("start streamer: %w", err)
	}
	defer p.InImageStream.Stop()

	p.isActive.Store(true)
	defer p.isActive.Store(false)

	g.Go(func() error { return p.frameLoop(ctx) })
	g.Go(func() error { return p.statusLoop(ctx) })

	return g.Wait()
}

func (p *Processor) frameLoop(ctx context.Context) error {
	var frameCount uint64
	lastFpsUpdate := time.Now()

	frames := p.InImageStream.FrameChan()

	for {
		select {
		case <-ctx.Done():
			return nil

		case frame, ok := <-frames:
			if !ok {
				return nil
			}

			start := time.Now()

			src, err := p.decode(frame)
			if err != nil {
				p.log.Debug().Err(err).Msg("dropping undecodable frame")
				p.emit(models.FrameError(err))
				continue
			}

			p.publish(src)
			p.latency.Store(int64(time.Since(start)))

			frameCount++
			if time.Since(lastFpsUpdate) >= time.Second {
				p.fps.Store(frameCount)
				frameCount = 0
				lastFpsUpdate = time.Now()
			}
		}
	}
}

func (p *Processor) statusLoop(ctx context.Context) error {
	statuses := p.InImageStream.StatusChan()

	for {
		select {
		case <-ctx.Done():
			return nil

		case st, ok := <-statuses:
			if !ok {
				return nil
			}
			p.log.Debug().Stringer("kind", st.Kind).Msg(st.Text)
			p.emit(st)
		}
	}
}

// emit is shared by both loops, so Offer's single-producer rule is kept by
// the mutex.
func (p *Processor) emit(st models.Status) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	stream.Offer(p.OutStatus, st)
}
