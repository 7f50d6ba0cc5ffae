package main

import (
	"os"

	"github.com/brewlog/auth-service/internal/tools/obscheck"
)

func main() {
	if err := obscheck.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
