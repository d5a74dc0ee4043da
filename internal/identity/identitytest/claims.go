package identitytest

import (
	"fmt"

	"github.com/BradenHooton/authgate/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// PeekClaims decodes an access token's claims WITHOUT verifying its signature,
// for asserting on tokens in tests
func PeekClaims(token string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedToken, err)
	}
	return claims, nil
}
