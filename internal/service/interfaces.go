package service

import (
	"context"

	"github.com/sandeepkv93/email-auth-api/internal/domain"
)

//go:generate mockgen -destination=gomock/mock_auth_service.go -package=gomock github.com/sandeepkv93/email-auth-api/internal/service AuthServiceInterface
//go:generate mockgen -destination=mock_mailer_test.go -package=service github.com/sandeepkv93/email-auth-api/internal/service Mailer

type AuthServiceInterface interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, in LoginInput) (*LoginResult, error)
	RequestVerification(ctx context.Context, email string) error
	ConfirmVerification(ctx context.Context, in ConfirmVerificationInput) error
	ChangePassword(ctx context.Context, id Identity, in ChangePasswordInput) error
}

var _ AuthServiceInterface = (*AuthService)(nil)
