package domain

import "time"

// Authentication method identifiers. A user accumulates methods as they
// link them; unlinking may never leave the slice empty.
const (
	MethodMagicLink = "magic_link"
	MethodOTP       = "otp"
	MethodGoogle    = "google"
)

type User struct {
	UserID      string     `json:"id" dynamodbav:"user_id"`
	Email       string     `json:"email" dynamodbav:"email"`
	Phone       *string    `json:"phone,omitempty" dynamodbav:"phone"`
	Role        string     `json:"role" dynamodbav:"role"`
	FirstName   string     `json:"first_name" dynamodbav:"first_name"`
	LastName    string     `json:"last_name" dynamodbav:"last_name"`
	Company     string     `json:"company,omitempty" dynamodbav:"company"`
	AuthMethods []string   `json:"auth_methods" dynamodbav:"auth_methods"`
	GoogleSub   string     `json:"-" dynamodbav:"google_sub"`
	Picture     string     `json:"picture,omitempty" dynamodbav:"picture"`
	Active      bool       `json:"active" dynamodbav:"active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty" dynamodbav:"last_login_at"`
	CreatedAt   time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt   time.Time  `json:"updated" dynamodbav:"updated_at"`
}

// HasAuthMethod reports whether the given method is linked to the account.
func (u *User) HasAuthMethod(method string) bool {
	for _, m := range u.AuthMethods {
		if m == method {
			return true
		}
	}
	return false
}
