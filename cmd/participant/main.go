package main

import (
	"github.com/immxrtalbeast/meshconf/internal/cli"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cli.Execute()
}
