package ensemble

import "embed"

// EmbeddedConfigFS provides the default role definitions and team templates.
//
//go:embed config
var EmbeddedConfigFS embed.FS
