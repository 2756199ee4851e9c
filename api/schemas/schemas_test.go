package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationKey(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		op   Operation
		want string
	}{
		{
			name: "method and path",
			op:   Operation{Method: MethodGet, Path: "/api/clients"},
			want: "GET /api/clients",
		},
		{
			name: "no path",
			op:   Operation{Method: MethodPost},
			want: "POST (no path)",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.op.Key())
		})
	}
}

func TestFieldIsRequired(t *testing.T) {
	t.Parallel()

	yes, no := true, false

	assert.True(t, Field{Name: "id", Required: &yes}.IsRequired())
	assert.False(t, Field{Name: "id", Required: &no}.IsRequired())
	assert.False(t, Field{Name: "id"}.IsRequired(), "unspecified must not count as required")
}

func TestFieldConstraints(t *testing.T) {
	t.Parallel()

	f := Field{Constraints: map[string]any{
		"format":    "email",
		"maxLength": float64(32),
		"minimum":   5,
	}}

	format, ok := f.StringConstraint("format")
	assert.True(t, ok)
	assert.Equal(t, "email", format)

	_, ok = f.StringConstraint("missing")
	assert.False(t, ok)

	maxLen, ok := f.NumberConstraint("maxLength")
	assert.True(t, ok)
	assert.Equal(t, float64(32), maxLen)

	minimum, ok := f.NumberConstraint("minimum")
	assert.True(t, ok, "int literals are accepted alongside float64")
	assert.Equal(t, float64(5), minimum)

	_, ok = f.NumberConstraint("format")
	assert.False(t, ok, "string constraint must not coerce to number")
}

func TestTestResultTransportFailed(t *testing.T) {
	t.Parallel()

	assert.True(t, TestResult{Status: 0, Error: "connection refused"}.TransportFailed())
	assert.False(t, TestResult{Status: 500, Error: "server blew up"}.TransportFailed())
	assert.False(t, TestResult{Status: 200}.TransportFailed())
}

func TestCredentialBag(t *testing.T) {
	t.Parallel()

	bag := CredentialBag{"username": "alice", "password": ""}

	assert.Equal(t, "alice", bag.Get("username"))
	assert.Equal(t, "", bag.Get("token"))
	assert.True(t, bag.Has("username"))
	assert.False(t, bag.Has("password"), "empty values do not count as present")
	assert.False(t, bag.Has("token"))
}
