/*
Package config loads Foreman's server configuration.

Configuration is resolved in three layers, later layers winning:

 1. Built-in defaults (Default)
 2. An optional YAML file passed to Load
 3. FOREMAN_* environment variables

The zero configuration is runnable: state goes under ./data, the control
plane listens on :8765, and the engine degrades gracefully when no
Anthropic or Linear credentials are present.
*/
package config
