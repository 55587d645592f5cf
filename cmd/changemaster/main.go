package main

import (
	"fmt"
	"os"

	"github.com/kode4food/changemaster/cmd/changemaster/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
