// Package hash wraps bcrypt for the broker's credential store.
package hash

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/tallerdist/sentinela/internal/er"
)

func HashPasswd(passwd string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passwd), cost)
	if err != nil {
		return "", &er.Err{Context: "Hash", Message: er.ErrHashFailed}
	}
	return string(hash), nil
}

func VerifyPasswd(hash, passwd string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passwd)) == nil
}
