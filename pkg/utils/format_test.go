package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestFormatReadable(t *testing.T) {
	tests := []struct {
		value    float64
		digits   int
		expected string
	}{
		{value: 12, digits: 1, expected: "12"},
		{value: 1500, digits: 1, expected: "1.5K"},
		{value: 2_500_000, digits: 2, expected: "2.50M"},
		{value: 3_000_000_000, digits: 0, expected: "3G"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatReadable(tt.value, tt.digits))
	}
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "1,234,567", FormatCount(language.English, 1234567))
	assert.Equal(t, "1.234.567", FormatCount(language.German, 1234567))
}

func TestLoadedSummary(t *testing.T) {
	assert.Equal(t, "3 of 1,204", LoadedSummary(language.English, 3, 1204))
	assert.Equal(t, "7", LoadedSummary(language.English, 7, 7))
}
