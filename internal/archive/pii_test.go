package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPhone(t *testing.T) {
	h1 := HashPhone("0912345678")
	h2 := HashPhone("0912 345 678")
	h3 := HashPhone("0987654321")

	assert.Equal(t, h1, h2, "whitespace should not change the hash")
	assert.NotEqual(t, h1, h3, "different input should produce different hash")
	assert.Len(t, h1, 64, "SHA-256 hex should be 64 chars")
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"email", "liên hệ an@example.com nhé", "liên hệ [EMAIL] nhé"},
		{"local phone", "• Số điện thoại: 0912345678", "• Số điện thoại: [PHONE]"},
		{"spaced phone", "gọi 0912 345 678 nha", "gọi [PHONE] nha"},
		{"country code", "số +84912345678", "số [PHONE]"},
		{"user id kept", "User ID: user_1771038000000_abc", "User ID: user_1771038000000_abc"},
		{"date kept", "2026-02-20 lúc 19:00", "2026-02-20 lúc 19:00"},
		{"name kept", "Tên: Minh Anh", "Tên: Minh Anh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ScrubPII(tt.input))
		})
	}
}
