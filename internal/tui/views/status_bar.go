package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the session, identity and connection state.
type StatusBar struct {
	*tview.TextView
	session   string
	identity  string
	connected bool
	flash     string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetIdentity updates the logged-in user display.
func (sb *StatusBar) SetIdentity(name string) {
	sb.identity = name
	sb.render()
}

// SetConnected updates the realtime connection indicator.
func (sb *StatusBar) SetConnected(connected bool) {
	sb.connected = connected
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	conn := "[red]offline[-]"
	if sb.connected {
		conn = "[green]online[-]"
	}

	who := sb.identity
	if who == "" {
		who = "not signed in"
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s | %s", sb.session, who, conn, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
