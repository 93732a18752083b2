// Package config loads and validates the gateway configuration.
//
// Configuration is a single YAML file with one section per component:
// device endpoints, stream reassembly, analysis, recording, the
// monitoring HTTP server and logging. Every section validates itself;
// Load fails fast on the first invalid value.
package config
