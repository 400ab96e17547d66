package cmd

import (
	"log"

	"github.com/DragonSenseiGuy/dragon-bot-slack/dragonbot"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Dragon Bot Slack listener and (optionally) the status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := dragonbot.New(cfg)
		if err != nil {
			log.Fatalf("error creating dragon bot: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running dragon bot: %s", err.Error())
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
