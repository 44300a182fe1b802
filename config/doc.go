// Package config loads the server configuration.
//
// Configuration files are CUE (.cue) or YAML (.yaml, .yml, .json). Either
// format is unified with an embedded CUE schema that supplies defaults and
// rejects unknown fields, then decoded into Config. Every field has a
// default, so an empty file is a valid in-memory development setup.
//
// Example:
//
//	cfg, err := config.Load(ctx, osfs.New("/etc/objgit"), "objgit.cue")
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.Server.Timeout.Std()
package config
