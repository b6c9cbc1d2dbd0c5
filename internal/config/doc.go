// Package config loads the reconciliation core's tunables: the dedup
// cache bound, the ordering buffer's timeout and queue bound, the
// coalescer's batch window and queue bound, and the correlation window.
//
// # Configuration Loading
//
// Load implements a layered strategy in priority order:
//
//  1. Global config (~/.config/opencode-core/core.{json,jsonc})
//  2. Project config (<directory>/.opencode-core/core.{json,jsonc})
//  3. Environment variables (OPENCODE_CORE_*)
//
// Every layer is optional; a missing file is not an error. Later layers
// override earlier ones field-by-field (a layer that only sets
// ordering.timeoutMs leaves every other field as the prior layer left it).
//
// # Supported Formats
//
// Both .json and .jsonc (JSON with comments, stripped via tidwall/jsonc)
// are accepted.
//
// # Path Management
//
// Paths follows the XDG Base Directory Specification:
//   - Data: ~/.local/share/opencode-core
//   - Config: ~/.config/opencode-core
//   - Cache: ~/.cache/opencode-core
//   - State: ~/.local/state/opencode-core
//
// On Windows these fall back to APPDATA.
package config
