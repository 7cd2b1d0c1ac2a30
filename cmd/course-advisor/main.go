package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/rcliao/course-advisor/internal/cli"
)

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
