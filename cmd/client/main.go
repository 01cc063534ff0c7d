package main

import (
	"context"
	"fmt"
	"os"

	"github.com/P-T-/OpenCoins/internal/client/cli"
	"github.com/P-T-/OpenCoins/internal/client/client"
	"github.com/P-T-/OpenCoins/internal/client/config"
)

func main() {
	cfg, args, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	c, err := client.New(cfg.ServerEndpointAddr, cfg.Timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	code := cli.NewApp(c, os.Stdin, os.Stdout).Run(context.Background(), args)
	_ = c.Close()
	os.Exit(code)
}
