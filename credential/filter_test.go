package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("  EMAIL:*@Example.COM   role:Admin created-after:2024-01-02T03:04:05Z ")
	require.NoError(t, err)
	assert.Equal(t, "*@example.com", f.EmailGlob)
	assert.Equal(t, RoleAdmin, f.Role)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), f.CreatedAfter)

	f, err = ParseFilter("created-before:2023-12-31 id:6F1C1B3E-0D43-4B8E-9F5A-2F3C4D5E6A7B")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), f.CreatedBefore)
	assert.Equal(t, "6f1c1b3e-0d43-4b8e-9f5a-2f3c4d5e6a7b", f.ID)
}

func TestParseFilter_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"email",
		"email:",
		"shoe:size",
		"role:root",
		"created-before:yesterday",
		"id:123",
		"role:user role:admin",
	} {
		_, err := ParseFilter(in)
		require.ErrorIs(t, err, ErrInvalidFilter, "input %q", in)
	}
}

func TestFilterWhere(t *testing.T) {
	f := Filter{EmailGlob: "a%b_c?*", Role: RoleUser}
	cond, args := f.where()
	assert.Equal(t, `email LIKE ? ESCAPE '\' AND role = ?`, cond)
	assert.Equal(t, []any{`a\%b\_c_%`, "user"}, args)
}
