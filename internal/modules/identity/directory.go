// Package identity resolves the acting principal of a request. It stands in
// for an external identity provider: principals come from a YAML directory
// and are looked up by the X-User-Id header.
package identity

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/aristath/tradeapproval/internal/modules/trades"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Directory is the set of known principals keyed by identifier
type Directory struct {
	mu         sync.RWMutex
	principals map[string]trades.Principal
}

// fileFormat is the on-disk shape of the principals file
type fileFormat struct {
	Principals []struct {
		ID   string `yaml:"id"`
		Role string `yaml:"role"`
	} `yaml:"principals"`
}

// DefaultPrincipals is the directory used in dev mode when no principals
// file exists
func DefaultPrincipals() []trades.Principal {
	return []trades.Principal{
		{ID: "User1", Role: trades.RoleUser},
		{ID: "User2", Role: trades.RoleUser},
		{ID: "admin", Role: trades.RoleAdmin},
	}
}

// NewDirectory builds a directory, rejecting blank or duplicate identifiers
func NewDirectory(principals []trades.Principal) (*Directory, error) {
	d := &Directory{principals: make(map[string]trades.Principal, len(principals))}
	for _, p := range principals {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("principal id must not be empty")
		}
		if _, dup := d.principals[p.ID]; dup {
			return nil, fmt.Errorf("duplicate principal %q", p.ID)
		}
		d.principals[p.ID] = p
	}
	return d, nil
}

// LoadDirectory reads principals from a YAML file. A missing file is an
// error unless allowDefaults is set, in which case the built-in principals
// are used.
func LoadDirectory(path string, allowDefaults bool, log zerolog.Logger) (*Directory, error) {
	log = log.With().Str("component", "identity").Logger()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if !allowDefaults {
			return nil, fmt.Errorf("principals file %s not found", path)
		}
		log.Warn().Str("path", path).Msg("Principals file not found, using built-in principals")
		return NewDirectory(DefaultPrincipals())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read principals file: %w", err)
	}

	principals, err := ParsePrincipals(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse principals file %s: %w", path, err)
	}

	dir, err := NewDirectory(principals)
	if err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Int("principals", len(principals)).Msg("Principals loaded")
	return dir, nil
}

// ParsePrincipals decodes the YAML principals document
func ParsePrincipals(data []byte) ([]trades.Principal, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	out := make([]trades.Principal, 0, len(doc.Principals))
	for _, entry := range doc.Principals {
		role, err := ParseRole(entry.Role)
		if err != nil {
			return nil, fmt.Errorf("principal %q: %w", entry.ID, err)
		}
		out = append(out, trades.Principal{ID: entry.ID, Role: role})
	}
	return out, nil
}

// ParseRole accepts the role names used by upstream identity providers
func ParseRole(name string) (trades.Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "user", "api_user", "requester":
		return trades.RoleUser, nil
	case "admin", "approver":
		return trades.RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", name)
}

// Lookup resolves an identifier to its principal
func (d *Directory) Lookup(id string) (trades.Principal, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.principals[id]
	return p, ok
}

// List returns all principals sorted by identifier
func (d *Directory) List() []trades.Principal {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]trades.Principal, 0, len(d.principals))
	for _, p := range d.principals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
