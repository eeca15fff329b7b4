package auth

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/foodcourt/api/internal/platform/config"
)

// IDTokenVerifier is the subset of the Firebase Admin auth client used here.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens. Roles come from the "roles" or "role" custom claim
// and the username from "username", falling back to the email address.
type FirebaseVerifier struct {
	tokens IDTokenVerifier
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return NewFirebaseTokenVerifier(client), nil
}

// NewFirebaseTokenVerifier wraps an existing token verifier.
func NewFirebaseTokenVerifier(tokens IDTokenVerifier) *FirebaseVerifier {
	return &FirebaseVerifier{tokens: tokens}
}

// Verify checks idToken and maps its claims onto an Identity.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	if v == nil || v.tokens == nil {
		return nil, fmt.Errorf("%w: firebase verifier not initialised", ErrVerifierUnavailable)
	}
	token, err := v.tokens.VerifyIDToken(ctx, idToken)
	if err != nil {
		switch {
		case firebaseauth.IsIDTokenExpired(err):
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		case firebaseauth.IsIDTokenInvalid(err):
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	email := claimAsString(token.Claims, "email")
	username := claimAsString(token.Claims, "username", "preferred_username")
	if username == "" {
		username = email
	}
	return &Identity{
		UID:      token.UID,
		Username: username,
		Email:    email,
		Roles:    rolesFromClaims(token.Claims, "roles", "role"),
		Source:   "firebase",
	}, nil
}
