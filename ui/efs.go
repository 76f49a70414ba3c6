// Package ui holds the HTML templates and static assets of the web interface.
package ui

import "embed"

//go:embed "static" "templates"
var Files embed.FS
