package policy

// Category tags the pipeline step that condemned a message. It doubles as the
// per-group policy key: each category can be toggled and scoped to a language
// list independently.
type Category string

const (
	CategoryNone     Category = ""
	CategoryCached   Category = "cached"
	CategoryURL      Category = "url"
	CategoryName     Category = "name"
	CategoryText     Category = "text"
	CategoryFilename Category = "filename"
	CategoryGame     Category = "game"
	CategoryVia      Category = "via"
	CategorySpC      Category = "spc"
	CategorySpE      Category = "spe"
	CategorySticker  Category = "sticker"
)

var knownCategories = map[Category]struct{}{
	CategoryCached:   {},
	CategoryURL:      {},
	CategoryName:     {},
	CategoryText:     {},
	CategoryFilename: {},
	CategoryGame:     {},
	CategoryVia:      {},
	CategorySpC:      {},
	CategorySpE:      {},
	CategorySticker:  {},
}

func (c Category) Valid() bool {
	_, ok := knownCategories[c]
	return ok
}

// Textual reports whether the category carries a concrete language detection,
// as opposed to pattern matches and cache replays.
func (c Category) Textual() bool {
	switch c {
	case CategoryName, CategoryText, CategoryFilename, CategoryGame, CategoryVia:
		return true
	}
	return false
}
