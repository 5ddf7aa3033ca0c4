// Package config loads configuration for the hypercube server binary.
//
// Settings are resolved in three layers, later layers winning:
//
//  1. Defaults (see Default).
//  2. A TOML file, when a path is given. Only keys present in the file
//     override defaults.
//  3. HYPERCUBE_* environment variables.
//
// Example hypercube.toml:
//
//	address = ":8080"
//	path = "/"
//	metrics_path = "/metrics"
//	ping_period = "30s"
//	timeout = "15s"
//	max_frame_size = 65536
//	log_level = "info"
//	log_format = "json"
package config
