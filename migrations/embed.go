// Package migrations holds the SQL schema for the Postgres document store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
