// Package migrations embeds the schema for the API client store (MySQL) and
// the delivery store (ClickHouse).
package migrations

import (
	"embed"
	"io/fs"
	"strings"
)

//go:embed mysql/*.sql
var MySQL embed.FS

//go:embed clickhouse/*.sql
var ClickHouse embed.FS

// ClickHouseStatements returns the ClickHouse DDL one statement at a time, in
// file order; the driver rejects multi-statement queries.
func ClickHouseStatements() ([]string, error) {
	files, err := fs.Glob(ClickHouse, "clickhouse/*.sql")
	if err != nil {
		return nil, err
	}

	var out []string
	for _, name := range files {
		b, err := ClickHouse.ReadFile(name)
		if err != nil {
			return nil, err
		}
		for _, stmt := range strings.Split(string(b), ";") {
			if s := strings.TrimSpace(stmt); s != "" {
				out = append(out, s)
			}
		}
	}
	return out, nil
}
