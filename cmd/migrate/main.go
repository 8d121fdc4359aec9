// Package main - Database maintenance CLI for Keyvex
// Applies the schema and reports on stored product tools.
//
// Usage:
//
//	go run cmd/migrate/main.go up           # Apply the schema
//	go run cmd/migrate/main.go status       # Show dialect, pool and tool counts
//	go run cmd/migrate/main.go purge N      # Hard delete tools soft deleted over N days ago
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/lmnhd/keyvex-sub008/internal/config"
	"github.com/lmnhd/keyvex-sub008/internal/db"
	"github.com/lmnhd/keyvex-sub008/pkg/models"
)

func main() {
	config.LoadDotEnv()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	if command == "help" {
		printUsage()
		return
	}

	appConfig := config.Load()
	if appConfig.DatabaseURL != "" {
		log.Println("Database type: postgres")
	} else {
		log.Printf("Database type: sqlite (%s)", appConfig.SQLitePath)
	}

	// NewDatabase applies the schema on connect.
	database, err := db.NewDatabase(&db.Config{URL: appConfig.DatabaseURL, SQLitePath: appConfig.SQLitePath})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	switch command {
	case "up":
		log.Println("Schema applied successfully!")
	case "status":
		showStatus(database)
	case "purge":
		if len(os.Args) < 3 {
			log.Fatal("Usage: migrate purge <days>")
		}
		days, err := strconv.Atoi(os.Args[2])
		if err != nil || days < 0 {
			log.Fatalf("Invalid day count: %s", os.Args[2])
		}
		purgeDeleted(database, time.Duration(days)*24*time.Hour)
	default:
		log.Printf("Unknown command: %s", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`
Keyvex Database Tool

Usage:
  migrate <command> [arguments]

Commands:
  up              Apply the schema
  status          Show dialect, connection pool and product tool counts
  purge <N>       Permanently remove tools deleted more than N days ago
  help            Show this help message

Environment Variables:
  DATABASE_URL    Postgres connection URL (empty selects sqlite)
  SQLITE_PATH     sqlite database file (default: keyvex.db)
`)
}

func showStatus(database *db.Database) {
	if err := database.Health(); err != nil {
		log.Fatalf("Database unhealthy: %v", err)
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	if err := database.DB.Model(&models.ProductTool{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&counts).Error; err != nil {
		log.Fatalf("Failed to count product tools: %v", err)
	}
	var deleted int64
	if err := database.DB.Unscoped().Model(&models.ProductTool{}).
		Where("deleted_at IS NOT NULL").
		Count(&deleted).Error; err != nil {
		log.Fatalf("Failed to count deleted tools: %v", err)
	}

	fmt.Println("Database Status:")
	fmt.Printf("  Dialect: %s\n", database.Dialect())
	for k, v := range database.GetStats() {
		fmt.Printf("  %s: %v\n", k, v)
	}
	fmt.Println("Product Tools:")
	for _, c := range counts {
		fmt.Printf("  %-10s %d\n", c.Status, c.Count)
	}
	fmt.Printf("  %-10s %d\n", "deleted", deleted)
}

func purgeDeleted(database *db.Database, age time.Duration) {
	cutoff := time.Now().UTC().Add(-age)
	log.Printf("Purging tools deleted before %s...", cutoff.Format(time.RFC3339))

	result := database.DB.Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Delete(&models.ProductTool{})
	if result.Error != nil {
		log.Fatalf("Purge failed: %v", result.Error)
	}
	log.Printf("Purged %d tools", result.RowsAffected)
}
