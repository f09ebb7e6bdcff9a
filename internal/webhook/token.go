package webhook

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// RoutingClaims are optional routing overrides carried in a bearer token
// on webhook requests. Partner integrations use them to pin a delivery to
// a specific company or chatbot.
type RoutingClaims struct {
	CompanyID string
	ChatbotID string
}

// DecodeRoutingClaims parses an Authorization header into routing claims.
// An absent header is not an error; a present but invalid token is.
func DecodeRoutingClaims(authHeader, secret string) (*RoutingClaims, error) {
	if authHeader == "" {
		return nil, nil
	}
	if secret == "" {
		return nil, fmt.Errorf("routing JWT secret not configured")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse routing token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid routing token claims")
	}

	routing := &RoutingClaims{}
	if companyID, ok := claims["companyId"].(string); ok {
		routing.CompanyID = companyID
	}
	if chatbotID, ok := claims["chatbotId"].(string); ok {
		routing.ChatbotID = chatbotID
	}
	return routing, nil
}
