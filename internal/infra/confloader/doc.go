// Package confloader loads configuration with koanf and watches config
// files for changes with fsnotify.
//
// Sources, later overriding earlier: the target struct's pre-filled
// defaults, a YAML file, TOKVAULT_* environment variables, then an
// explicit map (command-line flags).
//
// Environment keys use "__" as the nesting separator so that single
// underscores inside key names survive:
//
//	TOKVAULT_SERVER__PUBLIC_BASE_URL   -> server.public_base_url
//	TOKVAULT_STORAGE__BADGER__DIR      -> storage.badger.dir
package confloader
