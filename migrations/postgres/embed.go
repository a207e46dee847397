// Package migrations embebe los scripts SQL del schema.
package migrations

import "embed"

// FS contiene los pares NNNN_<nombre>_up.sql / NNNN_<nombre>_down.sql.
//
//go:embed *.sql
var FS embed.FS
