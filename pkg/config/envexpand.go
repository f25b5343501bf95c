package config

import "os"

// ExpandEnv expands environment variable references in configuration text
// before it is parsed. Supports both ${VAR} and $VAR syntax (standard
// shell-style). Applied to config.yaml, group.yaml, and blueprint
// documents, so an operator can write things like:
//
//   - ipc_address: ${CCCC_RUNTIME_HOME}/daemon/socket
//   - command: ["claude", "--add-dir", "${HOME}/src/app"]
//
// Missing variables expand to empty string. Validation should catch
// required fields that are empty.
func ExpandEnv(data []byte) []byte {
	expanded := os.ExpandEnv(string(data))
	return []byte(expanded)
}
