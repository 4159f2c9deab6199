package local

import "golang.org/x/crypto/bcrypt"

// Hasher allows password hashing to be customized.
type Hasher interface {
	// Generate a hashed password from a plaintext password.
	Generate(password []byte) ([]byte, error)

	// Compare a hashed password with a plaintext password.
	Compare(hashedPassword, password []byte) error
}

// DefaultHasher calls golang's standard bcrypt functions to hash and compare
// passwords.
var DefaultHasher Hasher = bcryptHasher{}

// TestHasher stores passwords as is. Only for tests, where bcrypt's cost makes
// suites slow.
var TestHasher Hasher = plainHasher{}

type bcryptHasher struct{}

func (bcryptHasher) Generate(password []byte) ([]byte, error) {
	return bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
}

func (bcryptHasher) Compare(hashedPassword, password []byte) error {
	return bcrypt.CompareHashAndPassword(hashedPassword, password)
}

type plainHasher struct{}

func (plainHasher) Generate(password []byte) ([]byte, error) {
	return password, nil
}

func (plainHasher) Compare(hashedPassword, password []byte) error {
	if len(hashedPassword) == 0 || string(hashedPassword) != string(password) {
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return nil
}
