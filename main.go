package main

import "procshell/cmd"

func main() {
	cmd.Execute()
}
