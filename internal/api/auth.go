package api

import (
	"fmt"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/colinzhu/limit-monitoring-sub000/internal/approvals"
)

// Auth resolves the acting user for approval endpoints. With a JWT secret
// configured the bearer token is mandatory and the actor comes from its
// claims; without one the actor comes from the request body, which is only
// acceptable behind a gateway that already authenticated the caller.
type Auth struct {
	secret []byte
}

func NewAuth(jwtSecret string) *Auth {
	if jwtSecret == "" {
		return &Auth{}
	}
	return &Auth{secret: []byte(jwtSecret)}
}

func (a *Auth) ActorFrom(r *http.Request, fallback approvals.Actor) (approvals.Actor, error) {
	if len(a.secret) == 0 {
		return fallback, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return approvals.Actor{}, fmt.Errorf("missing Authorization header")
	}

	tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return approvals.Actor{}, fmt.Errorf("invalid JWT: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return approvals.Actor{}, fmt.Errorf("invalid JWT claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return approvals.Actor{}, fmt.Errorf("JWT missing sub claim")
	}

	actor := approvals.Actor{UserID: sub}
	if name, ok := claims["name"].(string); ok {
		actor.UserName = name
	}
	return actor, nil
}
