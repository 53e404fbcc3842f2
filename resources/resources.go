package resources

import "embed"

//go:embed migrations wordlists i18n
var FS embed.FS
