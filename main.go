package main

import "github.com/nextlevelbuilder/agentwire/cmd"

func main() {
	cmd.Execute()
}
