package main

import "github.com/sigweihq/solconnect/internal/cli"

func main() {
	cli.Execute()
}
