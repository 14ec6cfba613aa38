package main

import (
	"flag"
	"log"

	"knowledge-assistant-be/internal/config"
	"knowledge-assistant-be/internal/model"
	"knowledge-assistant-be/pkg/database"

	"gorm.io/gorm"
)

type statement struct {
	name string
	sql  string
}

// Extensions must exist before AutoMigrate creates the vector column.
var extensions = []statement{
	{"pgcrypto", `CREATE EXTENSION IF NOT EXISTS pgcrypto`},
	{"pgvector", `CREATE EXTENSION IF NOT EXISTS vector`},
}

var indexes = []statement{
	{"chunk embedding hnsw", `CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding
		ON document_chunks USING hnsw (embedding_value vector_cosine_ops)`},
	{"conversation history", `CREATE INDEX IF NOT EXISTS idx_conversation_messages_history
		ON conversation_messages (conversation_id, created_at) WHERE deleted_at IS NULL`},
}

func main() {
	skipIndexes := flag.Bool("skip-indexes", false, "only create extensions and tables")
	flag.Parse()

	cfg := config.Load()
	if cfg.Database.Connection == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, database.PoolConfig{MaxOpenConns: 2, Verbose: true})
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	run(db, "extensions", extensions)

	log.Println("Running AutoMigrate...")
	if err := db.AutoMigrate(
		&model.Conversation{},
		&model.ConversationMessage{},
		&model.DocumentChunk{},
	); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	if !*skipIndexes {
		run(db, "indexes", indexes)
	}

	log.Println("Success: Database migration completed.")
}

// run executes every statement and keeps going on failure; a missing
// privilege for one extension should not block the table migration.
func run(db *gorm.DB, phase string, stmts []statement) {
	log.Printf("Creating %s...", phase)
	for _, s := range stmts {
		if err := db.Exec(s.sql).Error; err != nil {
			log.Printf("Warn: %s failed: %v", s.name, err)
		}
	}
}
