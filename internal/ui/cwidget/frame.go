package cwidget

import (
	"image"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// FrameView shows the latest stream frame, or a placeholder line until the
// first one arrives.
type FrameView struct {
	widget.BaseWidget

	imageCanvas       *canvas.Image
	placeholderWidget *widget.Label
}

func NewFrameView(minSize fyne.Size, placeholder string) *FrameView {
	view := &FrameView{}

	view.imageCanvas = canvas.NewImageFromImage(nil)
	view.imageCanvas.FillMode = canvas.ImageFillContain
	view.imageCanvas.ScaleMode = canvas.ImageScaleSmooth
	view.imageCanvas.SetMinSize(minSize)
	view.imageCanvas.Hidden = true

	view.placeholderWidget = widget.NewLabel(placeholder)
	view.placeholderWidget.Alignment = fyne.TextAlignCenter
	view.placeholderWidget.TextStyle = fyne.TextStyle{Italic: true}

	view.ExtendBaseWidget(view)

	return view
}

func (item *FrameView) CreateRenderer() fyne.WidgetRenderer {
	c := container.NewStack(
		item.imageCanvas,
		container.NewCenter(item.placeholderWidget),
	)

	return widget.NewSimpleRenderer(c)
}

// SetFrame swaps in a new image. A nil image brings the placeholder back.
func (item *FrameView) SetFrame(img image.Image) {
	item.imageCanvas.Image = img

	if img == nil {
		item.imageCanvas.Hide()
		item.placeholderWidget.Show()
		return
	}

	item.placeholderWidget.Hide()
	item.imageCanvas.Show()
	item.imageCanvas.Refresh()
}

func (item *FrameView) Frame() image.Image {
	return item.imageCanvas.Image
}

func (item *FrameView) SetPlaceholder(text string) {
	if item.placeholderWidget.Text != text {
		item.placeholderWidget.SetText(text)
	}
}

func (item *FrameView) Placeholder() string {
	return item.placeholderWidget.Text
}

func (item *FrameView) PlaceholderVisible() bool {
	return item.placeholderWidget.Visible()
}

// SetPixelated keeps hard pixel edges when a small frame is blown up.
func (item *FrameView) SetPixelated(on bool) {
	mode := canvas.ImageScaleSmooth
	if on {
		mode = canvas.ImageScalePixels
	}

	if item.imageCanvas.ScaleMode != mode {
		item.imageCanvas.ScaleMode = mode
		item.imageCanvas.Refresh()
	}
}

func (item *FrameView) Pixelated() bool {
	return item.imageCanvas.ScaleMode == canvas.ImageScalePixels
}
