package utils

import (
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatReadable shortens large values with a K, M or G suffix.
func FormatReadable(value float64, digits int) string {
	switch {
	case value >= 1_000_000_000:
		return strconv.FormatFloat(value/1_000_000_000, 'f', digits, 64) + "G"
	case value >= 1_000_000:
		return strconv.FormatFloat(value/1_000_000, 'f', digits, 64) + "M"
	case value >= 1_000:
		return strconv.FormatFloat(value/1_000, 'f', digits, 64) + "K"
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// FormatCount prints n with the digit grouping of tag.
func FormatCount(tag language.Tag, n int) string {
	return message.NewPrinter(tag).Sprintf("%d", n)
}

// LoadedSummary describes how much of a bucket is loaded, e.g. "3 of 1,204".
func LoadedSummary(tag language.Tag, loaded, total int) string {
	p := message.NewPrinter(tag)
	if loaded >= total {
		return p.Sprintf("%d", total)
	}
	return p.Sprintf("%d of %d", loaded, total)
}
