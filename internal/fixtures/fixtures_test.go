package fixtures

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/escrow/internal/custody"
	"github.com/xtrntr/escrow/internal/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		expectUsers int
		expectDeeds int
		expectError bool
	}{
		{
			name: "Valid",
			data: `
users:
  - {username: alice, password: pw, address: "0xa"}
deeds:
  - {id: "1", owner: "0xa", metadata: m}
  - {id: "2", owner: "0xa", metadata: m}
`,
			expectUsers: 1,
			expectDeeds: 2,
		},
		{name: "Empty", data: "", expectUsers: 0, expectDeeds: 0},
		{name: "Malformed", data: "users: [", expectError: true},
		{name: "UserWithoutAddress", data: "users:\n  - {username: a, password: p}\n", expectError: true},
		{name: "DuplicateUser", data: "users:\n  - {username: a, password: p, address: x}\n  - {username: a, password: p, address: y}\n", expectError: true},
		{name: "DeedWithoutOwner", data: "deeds:\n  - {id: \"1\"}\n", expectError: true},
		{name: "DuplicateDeed", data: "deeds:\n  - {id: \"1\", owner: a}\n  - {id: \"1\", owner: b}\n", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.data))
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, f.Users, tt.expectUsers)
			assert.Len(t, f.Deeds, tt.expectDeeds)
		})
	}
}

func TestLoad_SeedFile(t *testing.T) {
	f, err := Load(filepath.Join("..", "..", "fixtures", "seed.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, f.Users)
	assert.NotEmpty(t, f.Deeds)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMintDeeds(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("deeds:\n  - {id: \"7\", owner: \"0xa\", metadata: m}\n"), 0o600))

	f, err := Load(path)
	require.NoError(t, err)

	deeds := custody.NewDeedRegistry()
	require.NoError(t, f.MintDeeds(ctx, deeds))
	owner, err := deeds.OwnerOf(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, models.Address("0xa"), owner)

	// minting twice fails
	assert.Error(t, f.MintDeeds(ctx, deeds))
}

type fakeRegisterer struct {
	existing map[string]bool
}

var errExists = errors.New("exists")

func (r *fakeRegisterer) Register(_ context.Context, username, _ string, address models.Address) (*models.User, error) {
	if r.existing[username] {
		return nil, errExists
	}
	r.existing[username] = true
	return &models.User{Username: username, Address: address}, nil
}

func TestRegisterUsers(t *testing.T) {
	ctx := context.Background()
	f := &Fixtures{Users: []User{
		{Username: "alice", Password: "p", Address: "0xa"},
		{Username: "bob", Password: "p", Address: "0xb"},
	}}

	r := &fakeRegisterer{existing: map[string]bool{"alice": true}}
	_, err := f.RegisterUsers(ctx, r, nil)
	assert.ErrorIs(t, err, errExists)

	r = &fakeRegisterer{existing: map[string]bool{"alice": true}}
	n, err := f.RegisterUsers(ctx, r, func(err error) bool { return errors.Is(err, errExists) })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
