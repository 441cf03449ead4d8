// Package main is cpm's CLI entry point.
package main

import "github.com/cpm-dev/cpm/cmd/cpm/cmd"

func main() {
	cmd.Execute()
}
