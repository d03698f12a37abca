package main

import (
	"github.com/recotune/recotune/cmd"
	"github.com/recotune/recotune/pkg/env"
	"github.com/recotune/recotune/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("recotune failure", "error", err)
	}
}
