package views

import (
	"fmt"

	"github.com/matheus3301/chatty/internal/call"
	"github.com/rivo/tview"
)

// CallBar shows the call lifecycle above the thread: ringing prompts,
// negotiation progress and in-call mute/camera indicators.
type CallBar struct {
	*tview.TextView
	state     call.State
	peer      string
	ringing   string
	muted     bool
	cameraOff bool
}

// NewCallBar creates a new call bar.
func NewCallBar() *CallBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.ContrastBackgroundColor)

	cb := &CallBar{TextView: tv, state: call.Idle}
	cb.render()
	return cb
}

// SetState updates the call state and peer display.
func (cb *CallBar) SetState(state call.State, peer string) {
	cb.state = state
	cb.peer = peer
	if state != call.Idle {
		cb.ringing = ""
	}
	cb.render()
}

// SetRinging shows an incoming ring from peer; empty clears it.
func (cb *CallBar) SetRinging(peer string) {
	cb.ringing = peer
	cb.render()
}

// SetToggles updates the mute/camera indicators.
func (cb *CallBar) SetToggles(muted, cameraOff bool) {
	cb.muted = muted
	cb.cameraOff = cameraOff
	cb.render()
}

// Visible reports whether the bar has anything to show.
func (cb *CallBar) Visible() bool {
	return cb.state != call.Idle || cb.ringing != ""
}

func (cb *CallBar) render() {
	cb.Clear()

	var line string
	switch {
	case cb.ringing != "":
		line = fmt.Sprintf(" [yellow]Incoming call from %s[-] — a:accept  r:reject", tview.Escape(cb.ringing))
	case cb.state == call.RequestingMedia:
		line = " Opening camera/microphone..."
	case cb.state == call.Negotiating:
		line = fmt.Sprintf(" Calling %s...  h:hang up", tview.Escape(cb.peer))
	case cb.state == call.Active:
		mic := "mic on"
		if cb.muted {
			mic = "[red]muted[-]"
		}
		cam := "cam on"
		if cb.cameraOff {
			cam = "[red]cam off[-]"
		}
		line = fmt.Sprintf(" [green]In call with %s[-] | %s | %s | m:mute  o:camera  h:hang up",
			tview.Escape(cb.peer), mic, cam)
	default:
		return
	}

	_, _ = fmt.Fprint(cb, line)
}
