package migrate

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// Migrations returns the schema migrations shipped with the binary.
func Migrations() fs.FS { return sub(migrationFiles, "sql") }

// Seeds returns the demo data shipped with the binary.
func Seeds() fs.FS { return sub(seedFiles, "seeds") }

func sub(fsys embed.FS, dir string) fs.FS {
	out, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return out
}
