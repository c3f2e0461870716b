package main

import "github.com/messenger-client/internal/cli"

func main() {
	cli.Execute()
}
