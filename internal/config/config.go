package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURI     string
	TelegramToken   string
	CronSecret      string
	OwnerChatID     int64
	TranscribeKey   string
	TranscribeModel string
	Port            string
	AppEnv          string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	ownerChatID, _ := strconv.ParseInt(os.Getenv("OWNER_CHAT_ID"), 10, 64)

	return &Config{
		DatabaseURI:     os.Getenv("DATABASE_URI"),
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		CronSecret:      os.Getenv("CRON_SECRET"),
		OwnerChatID:     ownerChatID,
		TranscribeKey:   os.Getenv("OPENAI_API_KEY"),
		TranscribeModel: getEnvOrDefault("TRANSCRIBE_MODEL", "whisper-1"),
		Port:            getEnvOrDefault("PORT", "8080"),
		AppEnv:          getEnvOrDefault("APP_ENV", "development"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
