package main

import (
	"os"

	"horse.fit/medley/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
