package main

import (
	"context"
	"os"

	"taskschedule/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
}
