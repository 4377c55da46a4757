// Package tui is the terminal client: auth form, contact roster, message
// thread with composer, and the call bar. Views render snapshots from the
// view model; bus events drive redraws.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatty/internal/api"
	"github.com/matheus3301/chatty/internal/bus"
	"github.com/matheus3301/chatty/internal/call"
	"github.com/matheus3301/chatty/internal/tui/keys"
	"github.com/matheus3301/chatty/internal/tui/model"
	"github.com/matheus3301/chatty/internal/tui/views"
	"github.com/rivo/tview"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	vm       *model.ViewModel
	bus      *bus.Bus
	registry *keys.Registry

	statusBar   *views.StatusBar
	callBar     *views.CallBar
	contactList *views.ContactList
	msgView     *views.MessageView
	composer    *views.Composer
	authForm    *views.AuthForm

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(vm *model.ViewModel, b *bus.Bus, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:         tview.NewApplication(),
		pages:       tview.NewPages(),
		vm:          vm,
		bus:         b,
		registry:    keys.NewRegistry(),
		statusBar:   views.NewStatusBar(),
		callBar:     views.NewCallBar(),
		contactList: views.NewContactList(vm.IsOnline),
		msgView:     views.NewMessageView(),
		composer:    views.NewComposer(),
		authForm:    views.NewAuthForm(),
		ctx:         ctx,
		cancel:      cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("accept", &keys.Action{
		Rune: 'a', Key: tcell.KeyRune,
		Description: "a:accept", Visible: false,
		Handler: func() { a.acceptCall() },
	})
	a.registry.AddGlobal("reject", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:reject", Visible: false,
		Handler: func() {
			a.vm.RejectCall()
			a.callBar.SetRinging("")
		},
	})

	a.registry.AddPage("contacts", "quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddPage("contacts", "logout", &keys.Action{
		Rune: 'L', Key: tcell.KeyRune,
		Description: "L:logout", Visible: true,
		Handler: func() { a.logout() },
	})

	a.registry.AddPage("chat", "call", &keys.Action{
		Rune: 'c', Key: tcell.KeyRune,
		Description: "c:call", Visible: true,
		Handler: func() { a.startCall(false) },
	})
	a.registry.AddPage("chat", "video", &keys.Action{
		Rune: 'v', Key: tcell.KeyRune,
		Description: "v:video", Visible: true,
		Handler: func() { a.startCall(true) },
	})
	a.registry.AddPage("chat", "mute", &keys.Action{
		Rune: 'm', Key: tcell.KeyRune,
		Description: "m:mute", Visible: true,
		Handler: func() {
			muted := a.vm.ToggleMute()
			sess := a.vm.CallSession()
			cameraOff := sess != nil && sess.CameraOff()
			a.callBar.SetToggles(muted, cameraOff)
		},
	})
	a.registry.AddPage("chat", "camera", &keys.Action{
		Rune: 'o', Key: tcell.KeyRune,
		Description: "o:camera", Visible: true,
		Handler: func() {
			cameraOff := a.vm.ToggleCamera()
			sess := a.vm.CallSession()
			muted := sess != nil && sess.Muted()
			a.callBar.SetToggles(muted, cameraOff)
		},
	})
	a.registry.AddPage("chat", "hangup", &keys.Action{
		Rune: 'h', Key: tcell.KeyRune,
		Description: "h:hangup", Visible: true,
		Handler: func() { a.vm.HangUp() },
	})
}

func (a *App) setupCallbacks() {
	a.contactList.SetSelectedFunc(func(row, col int) {
		if u := a.contactList.SelectedContact(); u != nil {
			a.openConversation(u.ID)
		}
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			if strings.HasPrefix(text, "/") {
				cmd := ParseCommand(strings.TrimPrefix(text, "/"))
				switch cmd.Name {
				case "image":
					_ = a.vm.Send(a.ctx, "", cmd.Args)
				default:
					a.vm.Flash.Set("Unknown command: /"+cmd.Name, 3*time.Second)
				}
			} else {
				_ = a.vm.Send(a.ctx, text, "")
			}
			a.app.QueueUpdateDraw(func() {
				a.msgView.Update(a.vm.Messages())
				a.statusBar.SetFlash(a.vm.Flash.Get())
			})
		}()
	})

	a.authForm.SetOnLogin(func(email, password string) {
		go func() {
			if err := a.vm.Login(a.ctx, email, password); err != nil {
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetFlash(a.vm.Flash.Get())
				})
				return
			}
			a.enterRoster()
		}()
	})

	a.authForm.SetOnSignup(func(name, email, password string) {
		go func() {
			if err := a.vm.Signup(a.ctx, name, email, password); err != nil {
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetFlash(a.vm.Flash.Get())
				})
				return
			}
			a.enterRoster()
		}()
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.callBar, 1, 0, false).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	authFlex := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(a.authForm, 13, 0, true).
			AddItem(nil, 0, 1, false), 50, 0, true).
		AddItem(nil, 0, 1, false)

	a.pages.AddPage("auth", authFlex, true, true)
	a.pages.AddPage("contacts", a.contactList, true, false)
	a.pages.AddPage("chat", chatFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "chat" {
			a.closeConversation()
			return nil
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}
		if _, ok := focused.(*tview.Button); ok {
			return event
		}

		// 'i' focuses the composer (only when not already in an input field).
		if currentPage == "chat" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

// enterRoster loads the roster and switches to the contacts page.
func (a *App) enterRoster() {
	_ = a.vm.LoadRoster(a.ctx)
	a.app.QueueUpdateDraw(func() {
		ident := a.vm.Identity()
		if ident != nil {
			a.statusBar.SetIdentity(ident.Name)
			a.msgView.SetSelfID(ident.ID)
		}
		a.statusBar.SetConnected(a.vm.Connected())
		a.contactList.Update(a.vm.Roster())
		a.pages.SwitchToPage("contacts")
		a.app.SetFocus(a.contactList)
	})
}

// openConversation selects the partner, loads history and switches to the
// chat page.
func (a *App) openConversation(partnerID string) {
	var partner *api.User
	for _, u := range a.vm.Roster() {
		if u.ID == partnerID {
			u := u
			partner = &u
			break
		}
	}
	if partner == nil {
		return
	}
	partnerName := partner.Name
	go func() {
		if err := a.vm.SelectPartner(a.ctx, partner); err != nil {
			a.vm.Flash.Set("Load failed: "+err.Error(), 5*time.Second)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetPartner(partnerName)
			a.msgView.Update(a.vm.Messages())
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

// closeConversation unsubscribes and returns to the roster.
func (a *App) closeConversation() {
	go func() { _ = a.vm.SelectPartner(a.ctx, nil) }()
	a.pages.SwitchToPage("contacts")
	a.app.SetFocus(a.contactList)
}

func (a *App) startCall(video bool) {
	go func() {
		_ = a.vm.StartCall(video)
		a.refreshCallBar()
	}()
}

func (a *App) acceptCall() {
	go func() {
		_ = a.vm.AcceptCall()
		a.app.QueueUpdateDraw(func() {
			a.callBar.SetRinging("")
		})
		a.refreshCallBar()
	}()
}

func (a *App) refreshCallBar() {
	a.app.QueueUpdateDraw(func() {
		peer := ""
		if sess := a.vm.CallSession(); sess != nil {
			peer = sess.PeerID()
			for _, u := range a.vm.Roster() {
				if u.ID == peer {
					peer = u.Name
					break
				}
			}
		}
		a.callBar.SetState(a.vm.CallState(), peer)
		a.statusBar.SetFlash(a.vm.Flash.Get())
	})
}

func (a *App) logout() {
	go func() {
		if err := a.vm.Logout(a.ctx); err != nil {
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.vm.Flash.Get())
			})
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetIdentity("")
			a.statusBar.SetConnected(false)
			a.pages.SwitchToPage("auth")
			a.app.SetFocus(a.authForm)
		})
	}()
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		if err := a.vm.CheckAuth(a.ctx); err != nil {
			// No valid session: stay on the auth form.
			a.app.QueueUpdateDraw(func() {
				a.app.SetFocus(a.authForm)
			})
		} else {
			a.enterRoster()
		}

		a.startEventLoop()
		a.startRefreshLoop()
	}()

	return a.app.Run()
}

// startEventLoop redraws in response to bus events so pushes appear
// without waiting for the ticker.
func (a *App) startEventLoop() {
	ch, unsub := a.bus.Subscribe("", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				a.handleEvent(evt)
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) handleEvent(evt bus.Event) {
	switch {
	case evt.Kind == "chat.message_appended":
		a.app.QueueUpdateDraw(func() {
			if page, _ := a.pages.GetFrontPage(); page == "chat" {
				a.msgView.Update(a.vm.Messages())
			}
		})
	case evt.Kind == "chat.roster_updated" || evt.Kind == "presence.updated":
		a.app.QueueUpdateDraw(func() {
			a.contactList.Update(a.vm.Roster())
		})
	case evt.Kind == "call.incoming":
		ring, ok := evt.Payload.(call.IncomingCall)
		if !ok {
			return
		}
		name := ring.From
		for _, u := range a.vm.Roster() {
			if u.ID == ring.From {
				name = u.Name
				break
			}
		}
		a.app.QueueUpdateDraw(func() {
			a.callBar.SetRinging(name)
			a.pages.SwitchToPage("chat")
		})
	case evt.Kind == "call.incoming_cancelled":
		a.app.QueueUpdateDraw(func() {
			a.callBar.SetRinging("")
		})
	case evt.Kind == "call.state_changed":
		a.refreshCallBar()
	}
}

func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for {
			select {
			case <-ticker.C:
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetConnected(a.vm.Connected())
					a.statusBar.SetFlash(a.vm.Flash.Get())
				})
			case <-a.ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
