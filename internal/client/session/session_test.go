package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlobStore struct {
	data map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{data: map[string][]byte{}}
}

func (m *memBlobStore) MetaGet(ctx context.Context, key string) ([]byte, error) {
	return m.data[key], nil
}

func (m *memBlobStore) MetaSet(ctx context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

func (m *memBlobStore) MetaDelete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	store := newMemBlobStore()

	// Nothing persisted yet.
	a, err := Load(ctx, store)
	require.NoError(t, err)
	assert.Nil(t, a)

	in := &Auth{OK: true, Name: "alice", Roles: []string{"admin"}, Token: "t"}
	require.NoError(t, Save(ctx, store, in))

	a, err = Load(ctx, store)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, in, a)

	require.NoError(t, Clear(ctx, store))
	a, err = Load(ctx, store)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestLoadRejectsCorruptBlob(t *testing.T) {
	ctx := context.Background()
	store := newMemBlobStore()
	store.data[MetaKey] = []byte("{broken")

	_, err := Load(ctx, store)
	assert.Error(t, err)
}

func TestAuthUser(t *testing.T) {
	var a *Auth
	assert.Nil(t, a.User())

	a = &Auth{OK: false, Name: "alice"}
	assert.Nil(t, a.User(), "a logged-out blob has no user")

	a = &Auth{OK: true, Name: "alice", Roles: []string{"admin"}}
	u := a.User()
	require.NotNil(t, u)
	assert.Equal(t, "alice", u.Name)
	assert.True(t, u.IsAdmin())
}

func TestUserIsAdmin(t *testing.T) {
	var u *User
	assert.False(t, u.IsAdmin())
	assert.False(t, (&User{Name: "bob"}).IsAdmin())
	assert.True(t, (&User{Roles: []string{"admin"}}).IsAdmin())
}
