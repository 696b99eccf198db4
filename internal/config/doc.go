// Package config loads flipback configuration.
//
// Precedence, lowest to highest: built-in defaults, JSON config file,
// FLIPBACK_* environment variables, command-line flags. A few legacy
// variable names from the first deployment (ALCHEMY_WSS_URL,
// ALCHEMY_HTTP_URL, PORT) are honored for compatibility.
package config
