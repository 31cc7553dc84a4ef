package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/ShayCichocki/automaker/internal/orchestrator"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		if errors.Is(err, orchestrator.ErrUnsupportedProvider) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
