package main

import "github.com/nethalo/queryguard/cmd"

func main() {
	cmd.Execute()
}
