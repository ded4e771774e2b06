package main

import (
	"os"

	"horse.fit/trendwatch/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
