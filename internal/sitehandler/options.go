package sitehandler

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

// SiteProvider returns the exported frontend to serve, or false while there
// is nothing deployed yet.
type SiteProvider interface {
	Site() (fs.FS, bool)
}

type Options struct {
	Logger log.Logger
	// Site is the exported frontend
	Site SiteProvider
	// fallback FS (maintenance page, fallback 404)
	FallbackFS fs.FS

	// file names inside the FS roots (relative path)
	// - MaintenanceFile and Fallback404File are read from FallbackFS
	// - Site404File is read from the site FS
	MaintenanceFile string // default: "maintenance.html"
	Fallback404File string // default: "404.html"
	Site404File     string // default: "404.html"

	// HashedAssetPrefix marks build output with content hashes in the name.
	HashedAssetPrefix string // default: "_next/static/"

	HTMLCacheControl   string // default: "no-cache"
	HashedCacheControl string // default: "public, max-age=31536000, immutable"
	AssetCacheControl  string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.MaintenanceFile == "" {
		o.MaintenanceFile = "maintenance.html"
	}
	if o.Fallback404File == "" {
		o.Fallback404File = "404.html"
	}
	if o.Site404File == "" {
		o.Site404File = "404.html"
	}
	if o.HashedAssetPrefix == "" {
		o.HashedAssetPrefix = "_next/static/"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.HashedCacheControl == "" {
		o.HashedCacheControl = "public, max-age=31536000, immutable"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.Site == nil {
		return fmt.Errorf("%w: Site is nil", ErrInvalidOptions)
	}
	if o.FallbackFS == nil {
		return fmt.Errorf("%w: FallbackFS is nil", ErrInvalidOptions)
	}
	// fail on boot if the binary was built without its maintenance page
	if _, err := fs.Stat(o.FallbackFS, o.MaintenanceFile); err != nil {
		return fmt.Errorf("%w: missing %q in fallback FS: %v", ErrInvalidOptions, o.MaintenanceFile, err)
	}
	return nil
}
