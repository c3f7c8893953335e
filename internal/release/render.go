package release

import (
	"fmt"
	"regexp"

	"github.com/distribution/reference"
)

// Maximum length of an image tag accepted by registries.
const maxTagLength = 128

var (
	fieldPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

	anchoredTag = regexp.MustCompile(`^` + reference.TagRegexp.String() + `$`)

	invalidTagChar = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

// UnresolvedFieldError reports a template field with no value in the release
// context. The caller decides whether this is fatal: it is for a tag whose
// push policy requires the push, and a warning otherwise.
type UnresolvedFieldError struct {
	Field string
}

func (e *UnresolvedFieldError) Error() string {
	return fmt.Sprintf("unresolved template field {%s}", e.Field)
}

// Render substitutes {field} references in tmpl with values from args.
// Rendering is pure: the same template and arguments always produce the
// same string. The first unresolved field aborts with an
// [UnresolvedFieldError] naming it.
func Render(tmpl string, args Args) (string, error) {
	var missing *UnresolvedFieldError
	out := fieldPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		field := m[1 : len(m)-1]
		value, ok := args[field]
		if !ok {
			if missing == nil {
				missing = &UnresolvedFieldError{Field: field}
			}
			return m
		}
		return value
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// ValidTagName reports whether name is a syntactically valid image tag.
func ValidTagName(name string) bool {
	return len(name) <= maxTagLength && anchoredTag.MatchString(name)
}

// CorrectTagName coerces a rendered tag into the valid tag charset:
// characters outside [A-Za-z0-9_.-] become underscores, a leading '-' or
// '.' becomes an underscore, and the result is capped at 128 characters.
func CorrectTagName(name string) string {
	corrected := invalidTagChar.ReplaceAllString(name, "_")
	if corrected != "" && (corrected[0] == '-' || corrected[0] == '.') {
		corrected = "_" + corrected[1:]
	}
	if len(corrected) > maxTagLength {
		corrected = corrected[:maxTagLength]
	}
	return corrected
}
