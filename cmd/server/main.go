package main

import (
	"os"

	"github.com/P-T-/OpenCoins/internal/server"
)

func main() {
	os.Exit(server.Main())
}
