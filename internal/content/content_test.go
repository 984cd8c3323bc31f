package content

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	html := Render("hello **world**")
	if !strings.Contains(html, "<strong>world</strong>") {
		t.Errorf("bold not rendered: %q", html)
	}

	// Script injection is stripped, not escaped into the output.
	html = Render("hi <script>alert(1)</script>")
	if strings.Contains(html, "<script>") {
		t.Errorf("script survived sanitization: %q", html)
	}

	// Bare URLs become links.
	html = Render("see https://example.com/docs")
	if !strings.Contains(html, `<a href="https://example.com/docs"`) {
		t.Errorf("URL not linkified: %q", html)
	}

	html = Render("~~gone~~")
	if !strings.Contains(html, "<del>gone</del>") {
		t.Errorf("strikethrough not rendered: %q", html)
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize(`Team <img src=x onerror=alert(1)>`); strings.Contains(got, "onerror") {
		t.Errorf("event handler survived: %q", got)
	}
	if got := Sanitize("Plain Name"); got != "Plain Name" {
		t.Errorf("plain text mangled: %q", got)
	}
}

func TestEscape(t *testing.T) {
	if got := Escape(`<b>&"</b>`); strings.ContainsAny(got, `<>"`) {
		t.Errorf("unescaped characters in %q", got)
	}
}

func TestValidateUsername(t *testing.T) {
	for _, name := range []string{"Alice", "bob.smith", "Jo-Anne_99", "Mary Jane"} {
		if err := ValidateUsername(name); err != nil {
			t.Errorf("ValidateUsername(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", "<script>", "a@b", "tab\tname"} {
		if err := ValidateUsername(name); err == nil {
			t.Errorf("ValidateUsername(%q) accepted", name)
		}
	}
}
