package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"absent", "", "(not set)"},
		{"single char", "x", "****"},
		{"exactly eight", "12345678", "****"},
		{"nine chars", "123456789", "1234...REDACTED"},
		{"api key", "sk-ant-REDACTED", "sk-a...REDACTED"},
		{"multibyte stays masked", "éééééééé", "****"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactSecret(tt.value))
		})
	}
}

func TestRedactSecretNeverEchoesTail(t *testing.T) {
	secret := "sk-live-abcdef0123456789"
	got := RedactSecret(secret)
	assert.NotContains(t, got, secret[4:])
}
