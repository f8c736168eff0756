// Package config loads, merges, validates and watches the assistcore
// configuration.
//
// # Configuration Loading
//
// Load merges configuration from these sources, lowest precedence first:
//
//  1. Global config (~/.config/assistcore/, honoring XDG_CONFIG_HOME)
//  2. Project config (<directory>/ and <directory>/.assistcore/)
//  3. ASSISTCORE_CONFIG file
//  4. ASSISTCORE_CONFIG_CONTENT inline JSON
//  5. Environment variables (ASSISTCORE_LOG_LEVEL, ASSISTCORE_ADDR)
//
// Each directory may hold assistcore.json, assistcore.jsonc, assistcore.yaml
// or assistcore.yml. JSONC is stripped with tidwall/jsonc; YAML is decoded
// with yaml.v3 and re-encoded as JSON so both formats share one schema.
//
// # Variable Interpolation
//
//   - {env:VAR_NAME} expands to an environment variable
//   - {file:path} expands to file contents, relative to the config file
//
// Credentials are never stored in the file. A provider names a reference
// such as "env:OPENAI_API_KEY" and the secret store resolves it when the
// adapter is built.
//
//	{
//	  "providers": [
//	    {"id": "primary", "kind": "openai-compatible", "priority": 1,
//	     "endpoint": "https://api.openai.com/v1", "model": "gpt-4o-mini",
//	     "credentialRef": "env:OPENAI_API_KEY"},
//	    {"id": "local", "kind": "ollama-compatible", "priority": 2,
//	     "endpoint": "http://localhost:11434", "model": "llama3.2"}
//	  ],
//	  "router": {"interChunkTimeout": "30s", "requestTimeout": "5m"}
//	}
//
// # Merging
//
// Providers are merged by ID, a later file replacing the whole entry.
// Scalars override when set. Exclude patterns accumulate.
//
// # Hot Reload
//
// Watcher observes the config directories with fsnotify, debounces bursts of
// events and reloads. An invalid file is logged and the running
// configuration is kept.
package config
