package main

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed .env.example
var envExampleContent string

// runInit generates .env.example in the current directory.
func runInit() error {
	const filename = ".env.example"

	// Always overwrite .env.example (it's a template, safe to update)
	if err := os.WriteFile(filename, []byte(envExampleContent), 0644); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}

	fmt.Printf("generated %s\n", filename)
	fmt.Println("  next steps:")
	fmt.Println("  1. copy the template: cp .env.example .env")
	fmt.Println("  2. edit .env to taste (host/port, log rotation, rate limiting)")
	fmt.Println("  3. start the proxy: ./llm-proxy")
	fmt.Println("  4. add a profile via POST /api/profiles, then activate it")

	return nil
}
