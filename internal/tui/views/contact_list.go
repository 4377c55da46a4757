package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatty/internal/api"
	"github.com/rivo/tview"
)

// ContactList is the roster view with per-contact presence markers.
type ContactList struct {
	*tview.Table
	users  []api.User
	online func(id string) bool
}

// NewContactList creates the roster table. online reports live presence
// for a user id.
func NewContactList(online func(id string) bool) *ContactList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetTitle(" Contacts ")

	return &ContactList{
		Table:  table,
		online: online,
	}
}

// Update refreshes the roster with new data.
func (cl *ContactList) Update(users []api.User) {
	cl.users = users
	cl.render()
}

func (cl *ContactList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" EMAIL", 2},
		{" STATUS", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	for i, u := range cl.users {
		row := i + 1
		status := "[::d]offline[-:-:-]"
		if cl.online != nil && cl.online(u.ID) {
			status = "[green]online[-]"
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(u.Name))).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(u.Email)).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(status).SetExpansion(0).SetAlign(tview.AlignRight))
	}

	cl.SetTitle(fmt.Sprintf(" Contacts (%d) ", len(cl.users)))
}

// SelectedContact returns the currently selected roster user, or nil.
func (cl *ContactList) SelectedContact() *api.User {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx < 0 || idx >= len(cl.users) {
		return nil
	}
	u := cl.users[idx]
	return &u
}

// ContactByIndex returns the Nth roster user (1-based), or nil.
func (cl *ContactList) ContactByIndex(n int) *api.User {
	if n < 1 || n > len(cl.users) {
		return nil
	}
	u := cl.users[n-1]
	return &u
}
