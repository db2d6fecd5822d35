package main

import (
	"fmt"
	"os"

	"github.com/kubev2v/task-engine/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
