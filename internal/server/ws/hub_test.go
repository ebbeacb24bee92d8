package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://dash.example.com"}

	cases := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"configured origin", allowed, "https://dash.example.com", true},
		{"unknown origin", allowed, "https://evil.example.com", false},
		{"no origin header", allowed, "", true},
		{"empty list admits all", nil, "https://anywhere.example.com", true},
		{"wildcard entry", []string{"*"}, "https://anywhere.example.com", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, originAllowed(tc.allowed, tc.origin))
		})
	}
}
