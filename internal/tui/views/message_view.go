package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatty/internal/api"
	"github.com/rivo/tview"
)

// MessageView displays the message thread of one conversation.
type MessageView struct {
	*tview.TextView
	partnerName string
	selfID      string
}

// NewMessageView creates a new message thread view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true)
	tv.SetTitle(" Messages ")

	return &MessageView{TextView: tv}
}

// SetPartner updates the conversation partner shown in the title.
func (mv *MessageView) SetPartner(name string) {
	mv.partnerName = name
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// SetSelfID tells the view which sender id renders as "You".
func (mv *MessageView) SetSelfID(id string) {
	mv.selfID = id
}

// Update refreshes the thread with the message sequence, oldest first.
func (mv *MessageView) Update(msgs []api.Message) {
	mv.Clear()

	for _, m := range msgs {
		sender := mv.partnerName
		if m.SenderID == mv.selfID {
			sender = "You"
		}
		body := tview.Escape(sanitizeForTerminal(m.Text))
		if m.ImageURL != "" {
			if body != "" {
				body += "\n"
			}
			body += fmt.Sprintf("[blue][image] %s[-]", tview.Escape(m.ImageURL))
		}
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
			tview.Escape(sanitizeForTerminal(sender)), formatTimestamp(m.CreatedAt), body)
		_, _ = fmt.Fprint(mv, line)
	}

	mv.ScrollToEnd()
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
