package main

import (
	"os"

	"cosmossdk.io/log"

	"github.com/openalpha/bondbook/cmd/bondbookd/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		log.NewLogger(os.Stderr).Error("failure when running bondbookd", "err", err)
		os.Exit(1)
	}
}
