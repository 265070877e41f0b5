// Package site models the navigable pages of the school website and the host
// surface through which the voice assistant changes the current page.
//
// Pages form a closed enumeration. Tool calls from the speech model name a
// page in free text; [Resolver] maps that text onto the enumeration exactly,
// through a small alias table, or by phonetic similarity.
package site

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPage is returned when a name cannot be mapped onto a [Page].
var ErrUnknownPage = errors.New("site: unknown page")

// Page is one navigable page of the website.
type Page string

const (
	Home    Page = "home"
	About   Page = "about"
	Gallery Page = "gallery"
	Login   Page = "login"
	Signup  Page = "signup"
)

var pages = []Page{Home, About, Gallery, Login, Signup}

// aliases maps alternative names onto the page that serves them. The login
// page carries the contact form and the signup page the admin registration.
var aliases = map[string]Page{
	"contact": Login,
	"admin":   Signup,
}

// Pages returns every page in display order. The returned slice is a copy.
func Pages() []Page {
	out := make([]Page, len(pages))
	copy(out, pages)
	return out
}

// Names returns the page names as strings, in display order.
func Names() []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = string(p)
	}
	return out
}

// Valid reports whether p is a member of the enumeration.
func (p Page) Valid() bool {
	for _, q := range pages {
		if p == q {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (p Page) String() string { return string(p) }

// ParsePage maps name onto a Page by exact (case-insensitive) match or alias.
func ParsePage(name string) (Page, error) {
	key := normalize(name)
	if p := Page(key); p.Valid() {
		return p, nil
	}
	if p, ok := aliases[key]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPage, name)
}

// UnmarshalText implements encoding.TextUnmarshaler, so pages can be decoded
// directly from YAML and JSON.
func (p *Page) UnmarshalText(text []byte) error {
	parsed, err := ParsePage(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// normalize lower-cases name and strips surrounding whitespace, a leading
// "the" and a trailing "page", so that "The Gallery page" becomes "gallery".
func normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "the ")
	s = strings.TrimSuffix(s, " page")
	return strings.TrimSpace(s)
}
