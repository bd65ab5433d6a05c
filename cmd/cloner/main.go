package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/conduit-lang/cloner/internal/cli/commands"
)

func main() {
	if err := commands.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
