package user

import "fmt"

// SingleUserService serves a fixed sole user, the AUTH=single_user mode.
type SingleUserService struct {
	user User
}

// NewSingleUserService builds the service around the sole user. An empty id
// defaults to "single-user".
func NewSingleUserService(u User) *SingleUserService {
	if u.ID == "" {
		u.ID = "single-user"
	}
	return &SingleUserService{user: u}
}

// GetUser implements Service.
func (s *SingleUserService) GetUser(id string) (User, error) {
	if id != s.user.ID {
		return User{}, fmt.Errorf("user: unknown user %s", id)
	}
	return s.user, nil
}

// SingleUser implements Service.
func (s *SingleUserService) SingleUser() (User, bool) { return s.user, true }
