package main

import "github.com/nextlevelbuilder/superloop/cmd"

func main() {
	cmd.Execute()
}
