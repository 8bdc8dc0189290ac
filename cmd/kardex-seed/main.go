package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/models"
)

// kardex-seed migrates the schema and seeds the system movement types.
// Use it when the server runs with SKIP_MIGRATIONS=true.
func main() {
	name := flag.String("name", "", "Optional: also create a regular movement type with this name")
	kind := flag.String("kind", "", "With --name: INGRESO, EGRESO or OTHER")
	sqlitePath := flag.String("sqlite", "", "Optional: seed a local SQLite file instead of MySQL")
	flag.Parse()

	if p := strings.TrimSpace(*sqlitePath); p != "" {
		if err := config.ConnectSQLite(p); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	} else {
		config.ConnectDatabaseWithRetry()
	}
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	if err := models.Migrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	created, err := models.SeedMovementTypes(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("schema migrated; %d system movement types created\n", created)

	if strings.TrimSpace(*name) == "" {
		return
	}
	mk := kardex.MovementKind(strings.ToUpper(strings.TrimSpace(*kind)))
	if !mk.IsValid() {
		fmt.Fprintf(os.Stderr, "--kind must be INGRESO, EGRESO or OTHER, got %q\n", *kind)
		os.Exit(1)
	}
	mt, err := models.CreateMovementType(db, strings.TrimSpace(*name), mk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create movement type: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("movement type id=%d name=%s kind=%s\n", mt.ID, mt.Name, mt.Kind)
}
