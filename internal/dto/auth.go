package dto

// LoginRequest holds the credentials posted to /login.
type LoginRequest struct {
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

// RegisterRequest creates an account. ConfirmPassword never leaves the
// client.
type RegisterRequest struct {
	Email           string `json:"email" form:"email" validate:"required,email"`
	Username        string `json:"username" form:"username" validate:"required"`
	Password        string `json:"password" form:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password" validate:"required,eqfield=Password"`
	IsAdmin         bool   `json:"is_admin" form:"is_admin"`
}
