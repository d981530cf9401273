package main

import "github.com/inovadata/whatsman/cmd"

func main() {
	cmd.Execute()
}
