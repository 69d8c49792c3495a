/*Package tokens mints the RS512-signed tokens the REST gateway trusts.

Two kinds exist. Ownership tokens carry the tenant's owner role and the
caller's email; the gateway's row-level-security policies match the email
claim against each row's creator column. Read-only API tokens carry the role
but deliberately no email claim: with no email, the modification policy can
never match, which makes the token structurally read-only. That guarantee
lives in the RLS policy text of every table, not in application code.

Tokens are minted per call, carry no expiry and are never cached. Revocation
is key rotation, or deletion of the stored per-project API token.
*/
package tokens

import (
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

const issuer = "app"

// Minter signs gateway-facing tokens with a process-lifetime private key.
type Minter struct {
	privateKey *rsa.PrivateKey
}

// NewMinter parses the PEM-encoded RS512 private key.
func NewMinter(privateKeyPEM []byte) (*Minter, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("cannot parse gateway signing key: %w", err)
	}
	return &Minter{privateKey: key}, nil
}

// SignOwnershipToken mints a token for one proxied end-user request. The
// role claim selects the Postgres role the gateway executes as, the email
// claim is what row ownership is checked against.
func (m *Minter) SignOwnershipToken(role, email string) (string, error) {
	if role == "" || email == "" {
		return "", fmt.Errorf("role and email are required for an ownership token")
	}
	return m.sign(jwt.MapClaims{
		"role":  role,
		"email": email,
	})
}

// SignReadOnlyAPIToken mints a long-lived external API token. The apiUser
// claim marks the token kind; the absent email claim is what enforces
// read-only access.
func (m *Minter) SignReadOnlyAPIToken(role string) (string, error) {
	if role == "" {
		return "", fmt.Errorf("role is required for an api token")
	}
	return m.sign(jwt.MapClaims{
		"role":    role,
		"apiUser": true,
	})
}

func (m *Minter) sign(claims jwt.MapClaims) (string, error) {
	claims["iss"] = issuer
	claims["iat"] = jwt.TimeFunc().Unix()
	return jwt.NewWithClaims(jwt.SigningMethodRS512, claims).SignedString(m.privateKey)
}
