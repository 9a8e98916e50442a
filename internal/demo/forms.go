package demo

//go:generate go run github.com/romshark/csrfguard/cmd/csrfgen .

// LoginForm is submitted by anonymous visitors
// and protected by the double-submit cookie.
//
//csrfguard:token
type LoginForm struct {
	Name      string `form:"name" validate:"required,max=64"`
	CSRFToken string `form:"csrf_token"`
}

// LogoutForm is protected by the session's CSRF token.
//
//csrfguard:token
type LogoutForm struct {
	CSRFToken string `form:"csrf_token"`
}
