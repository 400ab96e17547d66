package main

import "github.com/DragonSenseiGuy/dragon-bot-slack/cmd"

func main() {
	cmd.Execute()
}
