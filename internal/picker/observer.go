package picker

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/runger/livesearch/internal/livesearch"
)

// Sender delivers messages into a running program. *tea.Program implements it.
type Sender interface {
	Send(msg tea.Msg)
}

// Observer forwards engine events into a Bubble Tea program. Events sent
// before Attach are dropped.
type Observer struct {
	sender Sender
}

// Compile-time check that Observer implements livesearch.Observer.
var _ livesearch.Observer = (*Observer)(nil)

// NewObserver creates an Observer that sends to s. s may be nil and
// attached later, before the engine runs.
func NewObserver(s Sender) *Observer {
	return &Observer{sender: s}
}

// Attach sets the program events are sent to. It must be called before the
// engine's Run starts.
func (o *Observer) Attach(s Sender) {
	o.sender = s
}

func (o *Observer) send(msg tea.Msg) {
	if o.sender != nil {
		o.sender.Send(msg)
	}
}

// ViewUpdated implements livesearch.Observer.
func (o *Observer) ViewUpdated(u livesearch.ViewUpdate) {
	o.send(viewUpdateMsg{update: u})
}

// FetchStateChanged implements livesearch.Observer.
func (o *Observer) FetchStateChanged(fetching bool) {
	o.send(fetchStateMsg{fetching: fetching})
}

// EngineStopped reports an engine error to the program, which then quits.
func (o *Observer) EngineStopped(err error) {
	if err != nil {
		o.send(engineErrMsg{err: err})
	}
}
