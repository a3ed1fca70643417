package middleware

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/poofware/passkey-service/internal/utils"
)

// TokenIssuer identifies the service that issues passkey sessions.
const TokenIssuer = utils.OrganizationName

var errClientBinding = errors.New("token not bound to this client")

// ValidateToken verifies an RS256 session token and the client binding
// recorded at issuance: "ip" for web clients, "device_id" for mobile ones.
// Expiry failures wrap jwt.ErrTokenExpired.
func ValidateToken(
	tokenString string,
	client utils.ClientIdentifier,
	publicKey *rsa.PublicKey,
) (*jwt.Token, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(*jwt.Token) (any, error) { return publicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	claimName := client.Type.String()
	if client.Type != utils.ClientIDTypeIP && client.Type != utils.ClientIDTypeDeviceID {
		return nil, fmt.Errorf("unsupported client identifier %q", claimName)
	}
	bound, _ := claims[claimName].(string)
	if bound == "" || bound != client.Value {
		return nil, fmt.Errorf("%w: %s claim mismatch", errClientBinding, claimName)
	}
	return token, nil
}
