// Package schema embeds the JSON schema of the cache index document.
package schema

import "embed"

// FS contains the embedded index schema.
//
//go:embed index.schema.json
var FS embed.FS

// IndexFile is the schema's name inside FS.
const IndexFile = "index.schema.json"
