package user

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleUserServiceResolvesSoleUser(t *testing.T) {
	svc := NewSingleUserService(User{ID: "u1", Name: "Solo"})

	sole, ok := svc.SingleUser()
	require.True(t, ok)
	require.Equal(t, "u1", sole.ID)

	got, err := svc.GetUser("u1")
	require.NoError(t, err)
	require.Equal(t, "Solo", got.Name)

	_, err = svc.GetUser("someone-else")
	require.Error(t, err)
}

func TestSingleUserServiceDefaultsID(t *testing.T) {
	svc := NewSingleUserService(User{})
	sole, ok := svc.SingleUser()
	require.True(t, ok)
	require.Equal(t, "single-user", sole.ID)
}
