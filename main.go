package main

import "github.com/nextlevelbuilder/savecast/cmd"

func main() {
	cmd.Execute()
}
