// cmd/seeder loads the migration and fixture SQL files against DATABASE_URL,
// in order, for local development. Grounded on the teacher's cmd/seeder
// (open db, read each file, exec its contents, log the filename), extended
// to run the schema migration before the fixtures.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/relaywave/wa-core/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	files := []string{
		"migrations/0001_init.sql",
		"seed/001_workspaces.sql",
		"seed/002_contacts.sql",
		"seed/003_campaign.sql",
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("failed to read %s: %v", file, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			log.Fatalf("failed to execute %s: %v", file, err)
		}
		fmt.Printf("applied: %s\n", file)
	}

	fmt.Println("database seeding completed successfully")
}
