//go:build tools
// +build tools

// Pins the goose CLI so migrations under internal/infra/db/postgres/migrations
// can be run by hand with the same version the service embeds.

package tools

import (
	_ "github.com/pressly/goose/v3/cmd/goose"
)
