package webauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionalField(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		want   string
		wantOK bool
	}{
		{
			name:   "plain value",
			value:  "admin@example.com",
			want:   "admin@example.com",
			wantOK: true,
		},
		{
			name:   "surrounding whitespace trimmed",
			value:  "  admin@example.com \n",
			want:   "admin@example.com",
			wantOK: true,
		},
		{
			name:  "empty",
			value: "",
		},
		{
			name:  "whitespace only",
			value: " \t ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := OptionalField(tt.value)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
