package main

import "github.com/vietddude/statsync/internal/cli"

func main() {
	cli.Execute()
}
