// Package cli implements the compare and serve commands.
//
// Settings resolve in order: built-in defaults, the --config file, PIXCACHE_*
// environment variables, then flags.
package cli
