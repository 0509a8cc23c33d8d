package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Quick connectivity and schema sanity check for the rooms database.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", ""),
		getEnv("DB_NAME", "studyroom"),
		getEnv("DB_SSLMODE", "disable"),
		getEnv("DB_TIMEZONE", "UTC"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	fmt.Println("✅ Connected to database")
	fmt.Println()

	for _, table := range []string{"users", "rooms", "room_invites"} {
		var exists bool
		query := `
			SELECT EXISTS (
				SELECT 1
				FROM information_schema.tables
				WHERE table_name = ?
			)
		`
		if err := db.Raw(query, table).Scan(&exists).Error; err != nil {
			log.Fatalf("Failed to check table %s: %v", table, err)
		}
		fmt.Printf("📊 Table %-13s exists: %v\n", table, exists)
	}

	var roomCount int64
	if err := db.Table("rooms").Where("is_active = ?", true).Count(&roomCount).Error; err == nil {
		fmt.Printf("\n🏠 Active rooms: %d\n", roomCount)
	}

	var expiredCount int64
	if err := db.Table("rooms").Where("expires_at < NOW()").Count(&expiredCount).Error; err == nil {
		fmt.Printf("🕐 Expired rooms pending cleanup: %d\n", expiredCount)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
