package sitehandler

import (
	"path"
	"strings"
)

func cacheControlForFile(name string, o *Options) string {
	if strings.HasPrefix(name, o.HashedAssetPrefix) {
		return o.HashedCacheControl
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".html", "":
		return o.HTMLCacheControl
	case ".txt", ".xml", ".json", ".webmanifest":
		// robots, sitemap, manifests change with each export
		return o.HTMLCacheControl
	default:
		// public/ images, fonts and audio samples keep their names across builds
		return o.AssetCacheControl
	}
}
