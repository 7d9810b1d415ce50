package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidFilter is returned for an empty filter, an unknown key or a bad value.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter selects accounts for bulk deletion. All set fields must match.
type Filter struct {
	EmailGlob     string
	Role          Role
	CreatedBefore time.Time
	CreatedAfter  time.Time
	ID            string
}

// IsZero reports whether the filter matches nothing in particular.
func (f Filter) IsZero() bool {
	return f.EmailGlob == "" && f.Role == "" && f.CreatedBefore.IsZero() &&
		f.CreatedAfter.IsZero() && f.ID == ""
}

// ParseFilter parses whitespace-separated key:value terms.
//
//	email:*@example.com role:user created-before:2024-01-01
//
// Supported keys are email (glob with * and ?), role, created-before,
// created-after (RFC 3339 or YYYY-MM-DD) and id (UUID). A key may appear once.
func ParseFilter(text string) (Filter, error) {
	var f Filter
	terms := strings.Fields(text)
	if len(terms) == 0 {
		return f, fmt.Errorf("%w: empty", ErrInvalidFilter)
	}

	seen := make(map[string]bool, len(terms))
	for _, term := range terms {
		key, value, ok := strings.Cut(term, ":")
		if !ok || value == "" {
			return Filter{}, fmt.Errorf("%w: term %q is not key:value", ErrInvalidFilter, term)
		}
		key = strings.ToLower(key)
		if seen[key] {
			return Filter{}, fmt.Errorf("%w: duplicate key %q", ErrInvalidFilter, key)
		}
		seen[key] = true

		switch key {
		case "email":
			f.EmailGlob = strings.ToLower(value)
		case "role":
			r := Role(strings.ToLower(value))
			if !r.Valid() {
				return Filter{}, fmt.Errorf("%w: unknown role %q", ErrInvalidFilter, value)
			}
			f.Role = r
		case "created-before", "created-after":
			t, err := parseFilterTime(value)
			if err != nil {
				return Filter{}, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, key, err)
			}
			if key == "created-before" {
				f.CreatedBefore = t
			} else {
				f.CreatedAfter = t
			}
		case "id":
			id, err := uuid.Parse(value)
			if err != nil {
				return Filter{}, fmt.Errorf("%w: id: %v", ErrInvalidFilter, err)
			}
			f.ID = id.String()
		default:
			return Filter{}, fmt.Errorf("%w: unknown key %q", ErrInvalidFilter, key)
		}
	}
	return f, nil
}

func parseFilterTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

// where renders the filter as a SQL condition with ? placeholders.
func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.EmailGlob != "" {
		conds = append(conds, `email LIKE ? ESCAPE '\'`)
		args = append(args, globToLike(f.EmailGlob))
	}
	if f.Role != "" {
		conds = append(conds, "role = ?")
		args = append(args, string(f.Role))
	}
	if !f.CreatedBefore.IsZero() {
		conds = append(conds, "created_at_ms < ?")
		args = append(args, f.CreatedBefore.UnixMilli())
	}
	if !f.CreatedAfter.IsZero() {
		conds = append(conds, "created_at_ms > ?")
		args = append(args, f.CreatedAfter.UnixMilli())
	}
	if f.ID != "" {
		conds = append(conds, "id = ?")
		args = append(args, f.ID)
	}
	return strings.Join(conds, " AND "), args
}

// globToLike converts * and ? wildcards into a LIKE pattern with \ escapes.
func globToLike(glob string) string {
	var b strings.Builder
	b.Grow(len(glob) + 4)
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
