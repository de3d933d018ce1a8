// Package appfs exposes the repo's embedded assets.
package appfs

import "embed"

//go:embed migrations
var FS embed.FS
