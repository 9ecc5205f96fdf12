package main

import (
	"github.com/covparse/cmd/cli/cmd"
)

func main() {
	cmd.Execute()
}
