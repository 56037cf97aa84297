// Package fixtures loads seed users and deeds from YAML.
package fixtures

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xtrntr/escrow/internal/models"
)

// User is a seed account
type User struct {
	Username string         `yaml:"username"`
	Password string         `yaml:"password"`
	Address  models.Address `yaml:"address"`
}

// Deed is a seed asset
type Deed struct {
	ID       string         `yaml:"id"`
	Owner    models.Address `yaml:"owner"`
	Metadata string         `yaml:"metadata"`
}

// Fixtures is the content of a seed file
type Fixtures struct {
	Users []User `yaml:"users"`
	Deeds []Deed `yaml:"deeds"`
}

// Load reads and validates the fixtures file at path
func Load(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates fixtures
func Parse(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}

	usernames := make(map[string]bool)
	for i, u := range f.Users {
		if u.Username == "" || u.Password == "" || u.Address.IsZero() {
			return nil, fmt.Errorf("user %d: username, password and address are required", i)
		}
		if usernames[u.Username] {
			return nil, fmt.Errorf("user %s: duplicate username", u.Username)
		}
		usernames[u.Username] = true
	}

	ids := make(map[string]bool)
	for i, d := range f.Deeds {
		if d.ID == "" || d.Owner.IsZero() {
			return nil, fmt.Errorf("deed %d: id and owner are required", i)
		}
		if ids[d.ID] {
			return nil, fmt.Errorf("deed %s: duplicate id", d.ID)
		}
		ids[d.ID] = true
	}
	return &f, nil
}

// Minter creates assets
type Minter interface {
	Mint(ctx context.Context, minter models.Address, assetID, metadata string) error
}

// Registerer creates user accounts
type Registerer interface {
	Register(ctx context.Context, username, password string, address models.Address) (*models.User, error)
}

// MintDeeds mints every deed into m
func (f *Fixtures) MintDeeds(ctx context.Context, m Minter) error {
	for _, d := range f.Deeds {
		if err := m.Mint(ctx, d.Owner, d.ID, d.Metadata); err != nil {
			return fmt.Errorf("failed to mint deed %s: %w", d.ID, err)
		}
	}
	return nil
}

// RegisterUsers registers every user through r. skip decides whether a
// failed registration is tolerated, e.g. because the user already exists.
func (f *Fixtures) RegisterUsers(ctx context.Context, r Registerer, skip func(error) bool) (int, error) {
	created := 0
	for _, u := range f.Users {
		if _, err := r.Register(ctx, u.Username, u.Password, u.Address); err != nil {
			if skip != nil && skip(err) {
				continue
			}
			return created, fmt.Errorf("failed to register %s: %w", u.Username, err)
		}
		created++
	}
	return created, nil
}
