package main

import "github.com/awheeler/certmint/cmd/certmint/cmd"

func main() {
	cmd.Execute()
}
