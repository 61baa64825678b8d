// Package checker polls the release host in the background.
package checker
