// Package sql embeds the canonical PostgreSQL schema for the swarm database.
package sql

import (
	"embed"
)

//go:embed schema/*.sql
var Content embed.FS
