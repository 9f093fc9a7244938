package cont

import (
	"context"

	"pixelmint-ledger/internal/models"
)

type ctxKey string

const UserDataKey ctxKey = "userData"

func PutUser(c context.Context, user *models.User) context.Context {
	return context.WithValue(c, UserDataKey, *user)
}

// GetUser returns nil when the request was not authenticated.
func GetUser(c context.Context) *models.User {
	user, ok := c.Value(UserDataKey).(models.User)
	if !ok {
		return nil
	}
	return &user
}
