package user

// User is the identity record exposed by the REST API.
type User struct {
	ID       string `json:"id" validate:"required,max=64,excludesall=/"`
	FullName string `json:"fullName" validate:"required,max=128"`
	Email    string `json:"email" validate:"required,email"`
}

// Seed provides the demo users loaded at startup.
func Seed() []User {
	return []User{
		{ID: "kai", FullName: "Kai Toedter", Email: "kai@toedter.com"},
		{ID: "john", FullName: "John Doe", Email: "john@doe.com"},
		{ID: "jane", FullName: "Jane Doe", Email: "jane@doe.com"},
	}
}
