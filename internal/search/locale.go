package search

import "unicode"

// Locale carries language and country hints for a search.
type Locale struct {
	Language string // ISO 639-1, e.g. "en"
	Country  string // ISO 3166-1 alpha-2, lowercase, e.g. "us"
}

// DefaultLocale is used when nothing better is known.
var DefaultLocale = Locale{Language: "en", Country: "us"}

// DetectLocale guesses the locale of text from the script of its letters.
func DetectLocale(text string) Locale {
	var letters, hangul, kana, han, cyrillic int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		}
	}
	if letters == 0 {
		return DefaultLocale
	}
	share := func(n int) float64 { return float64(n) / float64(letters) }
	switch {
	case share(hangul) > 0.3:
		return Locale{Language: "ko", Country: "kr"}
	case kana > 0 && share(kana+han) > 0.3:
		return Locale{Language: "ja", Country: "jp"}
	case share(han) > 0.3:
		return Locale{Language: "zh", Country: "cn"}
	case share(cyrillic) > 0.3:
		return Locale{Language: "ru", Country: "ru"}
	}
	return DefaultLocale
}
