package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/taskboard/internal/config"
	"github.com/example/taskboard/internal/database"
)

// Schema plus the change-notification plumbing: statement-level
// triggers publish a payload-free pg_notify on every write to tasks,
// which the realtime listener turns into full reloads.
const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS members (
    id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    email text NOT NULL UNIQUE,
    display_name text NOT NULL,
    invited_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks (
    id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    title text NOT NULL,
    description text NOT NULL DEFAULT '',
    status text NOT NULL DEFAULT 'planning'
        CHECK (status IN ('planning', 'in-progress', 'completed')),
    category text NOT NULL DEFAULT 'other',
    priority text NOT NULL DEFAULT 'medium',
    assignee_id uuid REFERENCES members (id) ON DELETE SET NULL,
    due_date date,
    completed_at timestamptz,
    "order" integer NOT NULL DEFAULT 0,
    created_at timestamptz NOT NULL DEFAULT now(),
    updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS tasks_status_order_idx ON tasks (status, "order");

CREATE OR REPLACE FUNCTION notify_tasks_changed() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('%s', '');
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS tasks_changed ON tasks;
CREATE TRIGGER tasks_changed
    AFTER INSERT OR UPDATE OR DELETE ON tasks
    FOR EACH STATEMENT
    EXECUTE FUNCTION notify_tasks_changed();
`

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Println("Running database migrations...")
	if _, err := db.ExecContext(ctx, fmt.Sprintf(schemaSQL, cfg.Realtime.Channel)); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	log.Println("Migrations completed")
}
