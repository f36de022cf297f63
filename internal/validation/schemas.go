package validation

import (
	"github.com/invopop/jsonschema"
)

// Name identifies a request schema.
type Name string

const (
	Register       Name = "register"
	Login          Name = "login"
	Verify         Name = "verify"
	VerifyUser     Name = "verify-user"
	ChangePassword Name = "change-password"
)

const (
	emailPattern    = `^[A-Za-z0-9._%+\-]+@([A-Za-z0-9\-]+\.)+(com|net)$`
	passwordPattern = `^[a-zA-Z0-9]{3,30}$`
	digitsPattern   = `^[0-9]+$`
)

type RegisterPayload struct {
	Email    string `json:"email,omitempty" jsonschema:"required,minLength=6,maxLength=60"`
	Password string `json:"password,omitempty" jsonschema:"required,minLength=6,maxLength=30"`
}

func (RegisterPayload) JSONSchemaExtend(s *jsonschema.Schema) {
	setPattern(s, "email", emailPattern)
	setPattern(s, "password", passwordPattern)
}

type LoginPayload struct {
	Email    string `json:"email,omitempty" jsonschema:"required,minLength=6,maxLength=60"`
	Password string `json:"password,omitempty" jsonschema:"required,minLength=1"`
}

func (LoginPayload) JSONSchemaExtend(s *jsonschema.Schema) {
	setPattern(s, "email", emailPattern)
	setPattern(s, "password", passwordPattern)
}

type VerifyPayload struct {
	Email string `json:"email,omitempty" jsonschema:"required,minLength=6,maxLength=60"`
}

func (VerifyPayload) JSONSchemaExtend(s *jsonschema.Schema) {
	setPattern(s, "email", emailPattern)
}

type VerifyUserPayload struct {
	Email            string `json:"email,omitempty" jsonschema:"required,minLength=6,maxLength=60"`
	VerificationCode string `json:"verificationCode,omitempty" jsonschema:"required,minLength=1"`
}

func (VerifyUserPayload) JSONSchemaExtend(s *jsonschema.Schema) {
	setPattern(s, "email", emailPattern)
	setPattern(s, "verificationCode", digitsPattern)
}

type ChangePasswordPayload struct {
	OldPassword string `json:"oldPassword,omitempty" jsonschema:"required,minLength=1"`
	NewPassword string `json:"newPassword,omitempty" jsonschema:"required,minLength=6,maxLength=30"`
}

func (ChangePasswordPayload) JSONSchemaExtend(s *jsonschema.Schema) {
	setPattern(s, "oldPassword", passwordPattern)
	setPattern(s, "newPassword", passwordPattern)
}

// Patterns contain commas, which struct tags cannot carry.
func setPattern(s *jsonschema.Schema, field, pattern string) {
	if prop, ok := s.Properties.Get(field); ok && prop != nil {
		prop.Pattern = pattern
	}
}

var payloads = map[Name]any{
	Register:       &RegisterPayload{},
	Login:          &LoginPayload{},
	Verify:         &VerifyPayload{},
	VerifyUser:     &VerifyUserPayload{},
	ChangePassword: &ChangePasswordPayload{},
}

// patternMessages replaces the generic pattern failure text per field.
var patternMessages = map[string]string{
	"email":            "must be a valid email",
	"verificationCode": "must be a number",
}
