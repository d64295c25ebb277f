// Package config loads the casewatch-server configuration from the `server:`
// section of config.yaml (the `agent:` key is ignored by the server binary).
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change; main applies the log level and webhook targets
// of a reloaded config and logs that refresh engine timings need a restart.
package config
