package config

import (
	"slices"
	"strings"
	"time"

	"github.com/jmgilman/objgit/errors"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendMinio  = "minio"
)

// Config is the complete server configuration.
type Config struct {
	Server       Server       `json:"server"`
	Storage      Storage      `json:"storage"`
	Lease        Lease        `json:"lease"`
	Log          Log          `json:"log"`
	Users        []User       `json:"users"`
	Repositories []Repository `json:"repositories"`
}

// Server configures the HTTP listener and git subprocesses.
type Server struct {
	Listen       string   `json:"listen"`
	Realm        string   `json:"realm"`
	MaxBodyBytes int64    `json:"maxBodyBytes"`
	Timeout      Duration `json:"timeout"`

	// Git is the git binary, looked up on PATH when not absolute.
	Git string `json:"git"`

	// ScratchRoot holds materialized repositories. Empty means the system
	// temp directory.
	ScratchRoot string `json:"scratchRoot"`
}

// Storage selects and configures the object store.
type Storage struct {
	Backend     string `json:"backend"`
	Endpoint    string `json:"endpoint"`
	Bucket      string `json:"bucket"`
	AccessKey   string `json:"accessKey"`
	SecretKey   string `json:"secretKey"`
	Region      string `json:"region"`
	UseSSL      bool   `json:"useSSL"`
	Prefix      string `json:"prefix"`
	Concurrency int    `json:"concurrency"`
}

// Lease configures repository write leases.
type Lease struct {
	TTL     Duration `json:"ttl"`
	MaxWait Duration `json:"maxWait"`
}

// Log configures the process logger.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// User is an account accepted by the static authenticator.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	Tokens       []string  `json:"tokens"`
	Sessions     []Session `json:"sessions"`
}

// Session is a bearer or cookie token with an expiry.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Repository registers a hosted repository under its owner's username.
type Repository struct {
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Validate checks constraints that depend on more than one field. Load
// calls it; callers that change a Config afterwards, such as applying
// command line flags, should call it again.
func (c *Config) Validate() error {
	if c.Storage.Backend == BackendMinio {
		var missing []string
		for name, v := range map[string]string{
			"storage.endpoint":  c.Storage.Endpoint,
			"storage.accessKey": c.Storage.AccessKey,
			"storage.secretKey": c.Storage.SecretKey,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return errors.WithContext(
				errors.New(errors.CodeInvalidConfig, "minio storage is missing required fields"),
				"fields", strings.Join(missing, ", "),
			)
		}
	}

	// A push holds the lease for at most one git subprocess; the lease must
	// outlive it even if a refresh is missed.
	if c.Server.Timeout > 0 && c.Lease.TTL <= c.Server.Timeout {
		return errors.WithContextMap(
			errors.New(errors.CodeInvalidConfig, "lease.ttl must be longer than server.timeout"),
			map[string]any{"ttl": c.Lease.TTL.Std().String(), "timeout": c.Server.Timeout.Std().String()},
		)
	}

	users := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		users[u.Username] = true
	}
	for _, r := range c.Repositories {
		if !users[r.Owner] {
			return errors.WithContext(
				errors.New(errors.CodeInvalidConfig, "repository owner is not a configured user"),
				"repository", r.Owner+"/"+r.Name,
			)
		}
	}
	return nil
}
