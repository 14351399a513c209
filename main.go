package main

import "github.com/gridzer0/threadbot/cmd"

func main() {
	cmd.Execute()
}
