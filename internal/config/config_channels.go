package config

// DiscordConfig configures the Discord gateway connection.
type DiscordConfig struct {
	Token       string              `json:"token"`
	AllowGuilds FlexibleStringSlice `json:"allow_guilds"` // empty = every guild the bot is in
	AllowFrom   FlexibleStringSlice `json:"allow_from"`   // user ids; empty = everyone
}
