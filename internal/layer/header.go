package layer

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// headerWindow is how much of a file is searched for header fields
const headerWindow = 8 * 1024

// headerTerminator cuts a value at the first comment or PHP close tag
var headerTerminator = regexp.MustCompile(`\s*(?:\*/|\?>).*`)

// HeaderField matches one "Name: value" field in a file header comment.
// The field may follow an opening <?php tag on the same line.
type HeaderField struct {
	re *regexp.Regexp
}

// NewHeaderField compiles a matcher for the named field, case-insensitively
func NewHeaderField(name string) HeaderField {
	return HeaderField{
		re: regexp.MustCompile(`(?mi)^(?:[ \t]*<\?php)?[ \t/*#@]*` + regexp.QuoteMeta(name) + `:(.*)$`),
	}
}

// ThemeName is the stylesheet field naming a theme
var ThemeName = NewHeaderField("Theme Name")

// Parse returns the first value of the field in content
func (h HeaderField) Parse(content string) (string, bool) {
	m := h.re.FindStringSubmatch(strings.ReplaceAll(content, "\r", "\n"))
	if m == nil {
		return "", false
	}
	value := strings.TrimSpace(headerTerminator.ReplaceAllString(m[1], ""))
	if value == "" {
		return "", false
	}
	return value, true
}

// ReadFile parses the field from the head of the file at path
func (h HeaderField) ReadFile(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer func() {
		_ = f.Close()
	}()

	head, err := io.ReadAll(io.LimitReader(f, headerWindow))
	if err != nil {
		return "", false, err
	}
	value, ok := h.Parse(string(head))
	return value, ok, nil
}

// ReadThemeName returns the Theme Name declared in root/style.css, or ""
// when the stylesheet or the field is missing.
func ReadThemeName(root string) string {
	if root == "" {
		return ""
	}
	name, _, err := ThemeName.ReadFile(filepath.Join(root, "style.css"))
	if err != nil {
		return ""
	}
	return name
}
