package ledger

import _ "embed"

// Schema is the bootstrap DDL from schema.sql, embedded so
// cmd/accounts can call Store.Bootstrap without depending on the
// process's working directory.
//
//go:embed schema.sql
var Schema string
