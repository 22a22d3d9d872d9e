/**
 * @description
 * Standalone migration runner for the portal-service schema. Applies the SQL
 * files under scripts/db_migrations/migrations against DATABASE_URL.
 */

package main

import (
	"database/sql"
	"errors"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/sfdconnect/portal-service/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=migrations msg=\"no .env file found; using environment values\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=migrations msg=\"config load failed\" err=%v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=migrations msg=\"database open failed\" err=%v", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("level=fatal component=migrations msg=\"driver init failed\" err=%v", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://scripts/db_migrations/migrations",
		"postgres",
		driver,
	)
	if err != nil {
		log.Fatalf("level=fatal component=migrations msg=\"migrate init failed\" err=%v", err)
	}

	preVersion, _, err := m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		preVersion = 0
	} else if err != nil {
		log.Fatalf("level=fatal component=migrations msg=\"version read failed\" err=%v", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("level=fatal component=migrations msg=\"migration failed\" err=%v", err)
	}

	postVersion, _, err := m.Version()
	if err != nil {
		log.Fatalf("level=fatal component=migrations msg=\"version read failed\" err=%v", err)
	}

	log.Printf("level=info component=migrations msg=\"migration status\" pre_version=%d post_version=%d", preVersion, postVersion)
}
