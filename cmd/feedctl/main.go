package main

import (
	"os"

	"github.com/joho/godotenv"

	"feedsync/internal/cli"
)

func main() {
	// .env があれば読み込む
	_ = godotenv.Load()

	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
