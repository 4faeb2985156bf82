package main

import "github.com/packsync/packsync/cmd"

func main() {
	cmd.Execute()
}
