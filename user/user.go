// Package user defines the user entity owned by agent contexts and the
// single-user resolution used when AUTH=single_user.
package user

type (
	// User identifies the owner of agents, LLM calls and review runs.
	User struct {
		// ID is the opaque, immutable user identifier.
		ID string `json:"id" firestore:"id" bson:"id"`
		// Name is the display name.
		Name string `json:"name,omitempty" firestore:"name,omitempty" bson:"name,omitempty"`
		// Email is the contact address.
		Email string `json:"email,omitempty" firestore:"email,omitempty" bson:"email,omitempty"`
		// HilBudget is the default human-in-the-loop cost budget applied to
		// new agents when the caller does not set one.
		HilBudget float64 `json:"hilBudget,omitempty" firestore:"hilBudget,omitempty" bson:"hilBudget,omitempty"`
		// HilCount is the default iteration count between HIL gates.
		HilCount int `json:"hilCount,omitempty" firestore:"hilCount,omitempty" bson:"hilCount,omitempty"`
	}

	// Service resolves users. In single-user mode SingleUser returns the sole
	// user; multi-user deployments resolve from their own identity layer.
	Service interface {
		// GetUser returns the user with the given id.
		GetUser(id string) (User, error)
		// SingleUser returns the sole user when running in single-user mode.
		// The second return is false when the deployment is multi-user.
		SingleUser() (User, bool)
	}
)
