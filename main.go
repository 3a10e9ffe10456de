package main

import "xcoffee/internal/commands"

func main() {
	commands.Execute()
}
