package views

import (
	"github.com/rivo/tview"
)

// AuthForm is the login/signup form shown before a session exists.
type AuthForm struct {
	*tview.Form
	signup   bool
	onLogin  func(email, password string)
	onSignup func(name, email, password string)
}

// NewAuthForm creates the form in login mode.
func NewAuthForm() *AuthForm {
	af := &AuthForm{Form: tview.NewForm()}
	af.Form.SetBorder(true)
	af.rebuild()
	return af
}

// SetOnLogin sets the login submit callback.
func (af *AuthForm) SetOnLogin(fn func(email, password string)) {
	af.onLogin = fn
	af.rebuild()
}

// SetOnSignup sets the signup submit callback.
func (af *AuthForm) SetOnSignup(fn func(name, email, password string)) {
	af.onSignup = fn
	af.rebuild()
}

func (af *AuthForm) rebuild() {
	af.Form.Clear(true)

	if af.signup {
		af.Form.SetTitle(" Create account ")
		af.Form.
			AddInputField("Username", "", 0, nil, nil).
			AddInputField("Email", "", 0, nil, nil).
			AddPasswordField("Password", "", 0, '*', nil).
			AddButton("Sign up", func() {
				if af.onSignup == nil {
					return
				}
				name := af.fieldText("Username")
				email := af.fieldText("Email")
				password := af.fieldText("Password")
				af.onSignup(name, email, password)
			}).
			AddButton("Have an account? Log in", func() {
				af.signup = false
				af.rebuild()
			})
		return
	}

	af.Form.SetTitle(" Log in ")
	af.Form.
		AddInputField("Email", "", 0, nil, nil).
		AddPasswordField("Password", "", 0, '*', nil).
		AddButton("Log in", func() {
			if af.onLogin == nil {
				return
			}
			email := af.fieldText("Email")
			password := af.fieldText("Password")
			af.onLogin(email, password)
		}).
		AddButton("New here? Sign up", func() {
			af.signup = true
			af.rebuild()
		})
}

func (af *AuthForm) fieldText(label string) string {
	item := af.Form.GetFormItemByLabel(label)
	if item == nil {
		return ""
	}
	field, ok := item.(*tview.InputField)
	if !ok {
		return ""
	}
	return field.GetText()
}
