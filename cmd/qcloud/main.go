// Command qcloud calls Tencent Cloud API actions from the shell
package main

import (
	"os"
)

func main() {
	if err := newRootCommand(newCLI(os.Stdout, os.Stderr)).Execute(); err != nil {
		os.Exit(1)
	}
}
