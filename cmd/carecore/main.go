package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			slog.Error("load .env", "err", err)
			os.Exit(1)
		}
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
