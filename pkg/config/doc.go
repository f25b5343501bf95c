// Package config loads the daemon's layered configuration: a single
// global config rooted at the runtime home, and a per-group document
// (group.yaml) carrying scopes, actor profiles, settings, and the
// automation ruleset baseline. The merge chain is defaults -> file -> env.
package config
