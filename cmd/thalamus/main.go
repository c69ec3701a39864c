package main

import (
	"log"

	"github.com/MrSnakeDoc/thalamus/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ thalamus failed: %v", err)
	}
}
