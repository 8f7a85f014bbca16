package phone_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/straye-as/pipeline-engine/internal/phone"
)

func TestNormalizeE164(t *testing.T) {
	us := phone.NewNormalizer("us")
	no := phone.NewNormalizer("NO")

	tests := []struct {
		name  string
		n     *phone.Normalizer
		input string
		want  string
	}{
		{"national US number", us, "(650) 253-0000", "+16502530000"},
		{"international with spaces", us, "+1 650 253 0000", "+16502530000"},
		{"norwegian national", no, "22 12 34 56", "+4722123456"},
		{"blank stays blank", us, "   ", ""},
		{"garbage is returned trimmed", us, "  call me  ", "call me"},
		{"invalid number is returned trimmed", us, "123", "123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.n.NormalizeE164(tt.input))
		})
	}
}
