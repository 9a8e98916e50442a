package demo

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

func page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head>`+
			`<meta charset="utf-8"><title>`+templ.EscapeString(title)+
			`</title></head><body>`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

func tokenInput(csrfToken string) string {
	return `<input type="hidden" name="csrf_token" value="` +
		templ.EscapeString(csrfToken) + `">`
}

func pageLogin(csrfToken string) templ.Component {
	return page("Login", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<h1>Login</h1>`+
			`<form method="post" action="/">`+
			tokenInput(csrfToken)+
			`<input type="text" name="name" placeholder="Name" required>`+
			`<button type="submit">Login</button>`+
			`</form>`)
		return err
	}))
}

func pageLoggedIn(name, csrfToken string) templ.Component {
	return page("Welcome", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<h1>Hello, `+templ.EscapeString(name)+`!</h1>`+
			`<p>Use this token in the X-CSRF-Token header to call `+
			`<a href="/header">/header</a>: <code id="csrf-token">`+
			templ.EscapeString(csrfToken)+`</code></p>`+
			`<form method="post" action="/logout">`+
			tokenInput(csrfToken)+
			`<button type="submit">Logout</button>`+
			`</form>`)
		return err
	}))
}
