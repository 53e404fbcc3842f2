package i18n

import "strings"

var languageNames = map[string]string{
	"ar": "Arabic",
	"bg": "Bulgarian",
	"de": "German",
	"el": "Greek",
	"en": "English",
	"es": "Spanish",
	"fa": "Persian",
	"fr": "French",
	"hi": "Hindi",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"nl": "Dutch",
	"pl": "Polish",
	"pt": "Portuguese",
	"ru": "Russian",
	"sw": "Swahili",
	"th": "Thai",
	"tr": "Turkish",
	"uk": "Ukrainian",
	"ur": "Urdu",
	"vi": "Vietnamese",
	"zh": "Chinese",
}

// GetLanguageName returns a human readable name for an ISO 639-1 code,
// falling back to the code itself.
func GetLanguageName(code string) string {
	normalized := strings.ToLower(code)
	if name, ok := languageNames[normalized]; ok {
		return name
	}
	return code
}
