package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"xcoffee/internal/config"
	"xcoffee/internal/logger"
	"xcoffee/internal/models"
	"xcoffee/internal/ui/cwidget"
	"xcoffee/processing/capture"
	processing "xcoffee/processing/viewer"
)

type ViewerApp struct {
	fyneApp fyne.App
	mainWin fyne.Window

	config    *config.Config
	processor *processing.Processor
	log       *zerolog.Logger

	frameView    *cwidget.FrameView
	statusLabel  *widget.Label
	latencyLabel *widget.Label
	fpsLabel     *widget.Label
	trojanCheck  *widget.Check

	// state is only touched from the UI goroutine.
	state ViewState

	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func CreateApp(p *processing.Processor, cfg *config.Config) *ViewerApp {
	a := app.NewWithID(config.AppID)
	a.Settings().SetTheme(newDarkTheme())

	w := a.NewWindow("xcoffee")
	w.Resize(fyne.NewSize(float32(cfg.Window.Width), float32(cfg.Window.Height)))

	return &ViewerApp{
		fyneApp:   a,
		mainWin:   w,
		processor: p,
		config:    cfg,
		log:       logger.WithComponent("ui"),
		state:     NewViewState(),
	}
}

func (a *ViewerApp) Run() {
	a.mainWin.SetContent(a.buildContent())

	a.mainWin.SetCloseIntercept(func() {
		a.StopProcessing()
		if err := a.config.SaveByDefault(); err != nil {
			a.log.Warn().Err(err).Msg("could not save config")
		}
		a.mainWin.Close()
	})

	a.StartProcessing()

	a.mainWin.CenterOnScreen()
	a.mainWin.ShowAndRun()
}

func (a *ViewerApp) buildContent() fyne.CanvasObject {
	a.frameView = cwidget.NewFrameView(fyne.NewSize(320, 240), a.state.Placeholder())
	a.frameView.SetPixelated(a.processor.TrojanView())

	a.statusLabel = widget.NewLabel(a.state.Status)
	a.statusLabel.Alignment = fyne.TextAlignCenter
	a.statusLabel.Truncation = fyne.TextTruncateEllipsis

	a.latencyLabel = widget.NewLabel(a.formatLatency(0))
	a.fpsLabel = widget.NewLabel(a.formatFPS(0))

	a.trojanCheck = widget.NewCheck("Trojan View", nil)
	a.trojanCheck.Checked = a.processor.TrojanView()
	a.trojanCheck.OnChanged = a.setTrojanView

	header := container.NewHBox(a.fpsLabel, widget.NewSeparator(), a.latencyLabel)
	footer := container.NewVBox(
		a.statusLabel,
		container.NewPadded(container.NewCenter(a.trojanCheck)),
	)

	return container.NewBorder(header, footer, nil, nil, a.frameView)
}

func (a *ViewerApp) setTrojanView(on bool) {
	a.processor.SetTrojanView(on)
	a.frameView.SetPixelated(on)
	a.log.Info().Bool("enabled", on).Msg("trojan view toggled")
}

func (a *ViewerApp) StopProcessing() {
	if a.cancel == nil {
		return
	}

	a.cancel()
	close(a.stopChan)
	a.wg.Wait()

	a.cancel = nil
}

func (a *ViewerApp) StartProcessing() {
	a.StopProcessing()

	streamer, err := capture.NewStreamer(a.config)
	if err != nil {
		dialog.ShowError(err, a.mainWin)
		return
	}
	a.processor.InImageStream = streamer

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.stopChan = make(chan struct{})

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		if err := a.processor.Run(ctx); err != nil {
			a.log.Error().Err(err).Msg("processor stopped")
			fyne.Do(func() { dialog.ShowError(err, a.mainWin) })
		}
	}()
	go a.runPlayerLoop(a.stopChan)
	go a.runStatLoop(a.stopChan)
}

func (a *ViewerApp) runStatLoop(stop <-chan struct{}) {
	defer a.wg.Done()

	uiTicker := time.NewTicker(time.Millisecond * 200)
	defer uiTicker.Stop()

	for {
		select {
		case <-uiTicker.C:
			latency := a.formatLatency(a.processor.Latency())
			fps := a.formatFPS(a.processor.FPS())
			fyne.Do(func() {
				a.latencyLabel.SetText(latency)
				a.fpsLabel.SetText(fps)
			})
		case <-stop:
			return
		}
	}
}

func (a *ViewerApp) formatFPS(v uint) string {
	return fmt.Sprintf("FPS: %d", v)
}

func (a *ViewerApp) formatLatency(v time.Duration) string {
	return fmt.Sprintf("Latency: %d ms", v.Milliseconds())
}

// runPlayerLoop redraws at most display_fps times a second, always with the
// newest frame. Statuses are applied in arrival order relative to frames.
func (a *ViewerApp) runPlayerLoop(stop <-chan struct{}) {
	defer a.wg.Done()

	frameChan := a.processor.OutImageStream
	statusChan := a.processor.OutStatus

	displayFPS := time.Duration(a.config.GetFPS())
	displayTicker := time.NewTicker(time.Second / displayFPS)
	defer displayTicker.Stop()

	var lastFrame processing.Output
	dirty := false

	for {
		select {
		case out := <-frameChan:
			if out.Image == nil {
				continue
			}
			if dirty && !lastFrame.Refiltered {
				// Re-rendered before the new frame was ever drawn.
				out.Refiltered = false
			}
			lastFrame = out
			dirty = true

		case st := <-statusChan:
			// A frame still waiting for the tick arrived before st.
			var pending processing.Output
			if dirty {
				pending, dirty = lastFrame, false
			}
			fyne.Do(func() {
				if pending.Image != nil {
					a.showFrame(pending)
				}
				a.applyStatus(st)
			})

		case <-displayTicker.C:
			if !dirty {
				continue
			}
			dirty = false

			out := lastFrame
			fyne.Do(func() { a.showFrame(out) })

		case <-stop:
			return
		}
	}
}

// showFrame draws out. Only a newly arrived frame clears the status line.
func (a *ViewerApp) showFrame(out processing.Output) {
	if !out.Refiltered {
		a.state.OnFrame()
		a.statusLabel.SetText(a.state.Status)
	}
	a.frameView.SetFrame(out.Image)
}

func (a *ViewerApp) applyStatus(st models.Status) {
	a.state.OnStatus(st)
	a.statusLabel.SetText(a.state.Status)
	a.frameView.SetPlaceholder(a.state.Placeholder())
}
