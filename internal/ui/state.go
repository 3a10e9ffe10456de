package ui

import "xcoffee/internal/models"

const (
	loadingText = "Loading coffee pot image..."
	noImageText = "No image available"
)

// ViewState is what the window shows, kept apart from the widgets so it can
// be driven without a running toolkit.
type ViewState struct {
	HasImage bool
	Status   string
	Loading  bool
}

func NewViewState() ViewState {
	return ViewState{
		Status:  models.Connecting().Text,
		Loading: true,
	}
}

func (s *ViewState) OnFrame() {
	s.HasImage = true
	s.Status = ""
	s.Loading = false
}

func (s *ViewState) OnFrameError(err error) {
	s.OnStatus(models.FrameError(err))
}

// OnStatus records a streamer or decoder notice. Progress notices keep the
// loading placeholder until the first frame; failures replace it.
func (s *ViewState) OnStatus(st models.Status) {
	s.Status = st.Text

	switch st.Kind {
	case models.StatusConnecting, models.StatusConnected, models.StatusReconnecting:
		s.Loading = !s.HasImage
	default:
		s.Loading = false
	}
}

func (s ViewState) Placeholder() string {
	if s.Loading {
		return loadingText
	}
	return noImageText
}
