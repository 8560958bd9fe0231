package main

import (
	"fmt"
	"os"

	"github.com/justenes1/purchasebot/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "purchasebot:", err)
		os.Exit(1)
	}
}
