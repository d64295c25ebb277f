// Package config loads and watches the casewatch-agent configuration file.
//
// The agent reads the `agent:` section of config.yaml: the server endpoint
// and credentials, how long local file-change bursts are coalesced before
// shipping (ship_delay), the ship buffer size, and the list of watched
// evidence directories. Load(path) applies defaults (2s ship delay, 1000
// batch buffer, kind "file") before validating.
//
// Watch(ctx, path, onChange) reloads the file on change. Editors emit
// several filesystem events per save; those are coalesced into one reload.
package config
