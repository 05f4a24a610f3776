package constants

// DefaultEnvPath is the default path to the .env file
const DefaultEnvPath = "./.env"

// DefaultConfigPath is the default path to the config.toml file
const DefaultConfigPath = "./config.toml"

// EnvConfigPath overrides DefaultConfigPath when set.
const EnvConfigPath = "NEXBACKUP_CONFIG"
