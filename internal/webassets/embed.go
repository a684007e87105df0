// Package webassets embeds the pages the server can show without a deployed
// frontend: the maintenance page, a plain 404, and a one-page seed site.
package webassets

import (
	"embed"
	"io/fs"
)

const (
	MaintenancePage = "maintenance.html"
	NotFoundPage    = "404.html"
)

//go:embed fallback seed
var embedded embed.FS

var (
	fallback = mustSub("fallback")
	seed     = mustSub("seed")
)

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(embedded, dir)
	if err != nil {
		panic("webassets: " + err.Error())
	}
	return sub
}

// Fallback holds MaintenancePage and NotFoundPage.
func Fallback() fs.FS { return fallback }

// Seed is the placeholder site served until an exported frontend is deployed.
// ok is false when the binary was built without seed/index.html.
func Seed() (site fs.FS, ok bool) {
	if _, err := fs.Stat(seed, "index.html"); err != nil {
		return nil, false
	}
	return seed, true
}
