package discord

import (
	"github.com/gridzer0/threadbot/internal/bus"
	"github.com/gridzer0/threadbot/internal/config"
)

// Factory creates the Discord channel from the loaded configuration.
func Factory(cfg *config.Config, msgBus bus.MessageRouter) (*Channel, error) {
	return New(Options{
		Token:              cfg.Discord.Token,
		AllowGuilds:        cfg.Discord.AllowGuilds,
		AllowFrom:          cfg.Discord.AllowFrom,
		AutoArchiveMinutes: cfg.Threads.AutoArchiveMinutes,
	}, msgBus)
}
