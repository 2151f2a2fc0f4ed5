// Package schemas embeds the JSON Schemas for inbound request bodies.
package schemas

import "embed"

//go:embed *.schema.json
var FS embed.FS
