package web

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var postLoginMarkers = []string{"dashboard", "main-content"}

// loginForm is the first form holding a password input.
type loginForm struct {
	action  string
	method  string
	values  url.Values
	userKey string
	passKey string
}

func findLoginForm(root *html.Node) *loginForm {
	for _, form := range findAll(root, func(n *html.Node) bool { return n.DataAtom == atom.Form }) {
		pass := find(form, func(n *html.Node) bool { return isInput(n, "password") })
		if pass == nil {
			continue
		}
		lf := &loginForm{
			action:  attr(form, "action"),
			method:  strings.ToUpper(attr(form, "method")),
			values:  url.Values{},
			passKey: fieldName(pass, "password"),
		}
		if lf.method == "" {
			lf.method = "POST"
		}
		for _, in := range findAll(form, func(n *html.Node) bool { return isInput(n, "hidden") }) {
			if name := attr(in, "name"); name != "" {
				lf.values.Set(name, attr(in, "value"))
			}
		}
		user := find(form, func(n *html.Node) bool {
			return n.DataAtom == atom.Input && (attr(n, "name") == "username" || attr(n, "id") == "username")
		})
		if user == nil {
			user = find(form, func(n *html.Node) bool { return isInput(n, "text", "email") })
		}
		if user != nil {
			lf.userKey = fieldName(user, "username")
		}
		return lf
	}
	return nil
}

func fieldName(n *html.Node, fallback string) string {
	if v := attr(n, "name"); v != "" {
		return v
	}
	if v := attr(n, "id"); v != "" {
		return v
	}
	return fallback
}

// loginError reports an error indicator and its text. An empty indicator
// still counts.
func loginError(root *html.Node) (string, bool) {
	n := find(root, func(n *html.Node) bool { return hasClass(n, "alert-danger") })
	if n == nil {
		return "", false
	}
	if txt := textOf(n); txt != "" {
		return txt, true
	}
	return "login rejected", true
}

func hasPostLoginMarker(root *html.Node) bool {
	return find(root, func(n *html.Node) bool {
		for _, m := range postLoginMarkers {
			if hasClass(n, m) {
				return true
			}
		}
		return attr(n, "id") == "btn-check"
	}) != nil
}

// control is the check-in/check-out button.
type control struct {
	id     string
	label  string
	action string
	method string
	values url.Values
}

func (c *control) fingerprint() string {
	return c.id + "|" + c.label + "|" + c.action
}

func isControl(n *html.Node) bool {
	if n.DataAtom != atom.Button && !isInput(n, "submit", "button") {
		return false
	}
	id := strings.ToLower(attr(n, "id"))
	if id == "btn-check" || hasClass(n, "btn-check") {
		return true
	}
	return strings.Contains(id, "check") || strings.Contains(strings.ToLower(attr(n, "class")), "check")
}

func findControl(root *html.Node) *control {
	n := find(root, func(n *html.Node) bool { return attr(n, "id") == "btn-check" })
	if n == nil || !isControl(n) {
		n = find(root, isControl)
	}
	if n == nil {
		return nil
	}
	c := &control{id: attr(n, "id"), method: "POST", values: url.Values{}}
	c.label = textOf(n)
	if c.label == "" {
		c.label = attr(n, "value")
	}

	form := ancestor(n, atom.Form)
	if form != nil {
		c.action = attr(form, "action")
		if m := strings.ToUpper(attr(form, "method")); m != "" {
			c.method = m
		}
		for _, in := range findAll(form, func(x *html.Node) bool { return x.DataAtom == atom.Input }) {
			if isInput(in, "submit", "button", "checkbox", "radio") {
				continue
			}
			if name := attr(in, "name"); name != "" {
				c.values.Set(name, attr(in, "value"))
			}
		}
		if !hasAttr(form, "action") {
			c.action = "."
		}
	}
	if v := attr(n, "formaction"); v != "" {
		c.action = v
	} else if v := attr(n, "data-url"); v != "" {
		c.action = v
	}
	if m := strings.ToUpper(attr(n, "formmethod")); m != "" {
		c.method = m
	}
	if name := attr(n, "name"); name != "" {
		c.values.Set(name, attr(n, "value"))
	}
	return c
}

// confirmed reports whether page shows the action was registered.
func confirmed(root *html.Node, text string, before *control) bool {
	if text != "" && strings.Contains(strings.ToLower(textOf(root)), strings.ToLower(text)) {
		return true
	}
	if find(root, func(n *html.Node) bool { return hasClass(n, "success") || hasClass(n, "confirm") }) != nil {
		return true
	}
	// a control that disappeared or changed is stale
	if before != nil {
		if now := findControl(root); now == nil || now.fingerprint() != before.fingerprint() {
			return true
		}
	}
	return false
}
