package main

import "lpr-manager/cmd"

func main() {
	cmd.Execute()
}
