package config

import (
	"os"
	"strconv"
)

type Config struct {
	OpenAIApiKey  string
	GoogleApiKey  string
	MistralApiKey string
	DatabaseURL   string
	Model         string
	BaseURL       string
	Provider      string
	Port          string
	Depth         int
	Breadth       int
	Concurrency   int
	Learnings     int
	MaxResults    int
}

func Load() *Config {
	return &Config{
		OpenAIApiKey:  getEnv("OPENAI_API_KEY", ""),
		GoogleApiKey:  getEnv("GOOGLE_API_KEY", ""),
		MistralApiKey: getEnv("MISTRAL_API_KEY", ""),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		Model:         getEnv("RESEARCH_MODEL", "gpt-4o-mini"),
		BaseURL:       getEnv("OPENAI_BASE_URL", ""),
		Provider:      getEnv("LLM_PROVIDER", "openai"),
		Port:          getEnv("PORT", "8081"),
		Depth:         getEnvAsInt("RESEARCH_DEPTH", 2),
		Breadth:       getEnvAsInt("RESEARCH_BREADTH", 3),
		Concurrency:   getEnvAsInt("RESEARCH_CONCURRENCY", 3),
		Learnings:     getEnvAsInt("RESEARCH_LEARNINGS", 5),
		MaxResults:    getEnvAsInt("RESEARCH_MAX_RESULTS", 5),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
