package main

import (
	"log"

	"github.com/MrSnakeDoc/namebroker/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ namebroker failed: %v", err)
	}
}
