// Package asset resolves product ids to staged product files.
//
// The catalog is a YAML manifest mapping each product id to a display
// name and a file name under a root directory:
//
//	root: /var/lib/tokvault/assets
//	products:
//	  go-handbook:
//	    name: The Go Handbook
//	    file: go-handbook.pdf
//	    content_type: application/pdf
//
// A product listed in the catalog whose file is not on disk yet is
// reported as domain.ErrAssetUnavailable, which delivery surfaces as a
// "preparing" line.
package asset
