// Package migrations embeds the goose SQL migrations so the service and the
// migrate command run the same files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
