package main

import "github.com/calewis/plainread/cmd/plainread/cli"

func main() {
	cli.Execute()
}
