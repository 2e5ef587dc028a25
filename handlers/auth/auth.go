package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"collab-server/core"
)

var jwtSecret []byte

// ActorClaims are the custom claims minted by the workspace's identity
// service. Subject carries the actor id; agent tokens are marked with
// is_agent plus the agent's name.
type ActorClaims struct {
	jwt.RegisteredClaims
	DisplayName string `json:"name"`
	IsAgent     bool   `json:"is_agent,omitempty"`
	AgentName   string `json:"agent_name,omitempty"`
}

// Actor converts the claims into the domain identity handlers work with.
func (c *ActorClaims) Actor() core.Actor {
	return core.Actor{
		ActorID:     c.Subject,
		DisplayName: c.DisplayName,
		IsAgent:     c.IsAgent,
		AgentName:   c.AgentName,
	}
}

func InitAuth() {
	jwtSecret = []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}
}

// CreateToken mints a signed token for an actor. Login flows live in the
// workspace's identity service; this is for agent provisioning and tests.
func CreateToken(actor core.Actor, ttl time.Duration) (string, error) {
	claims := ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ActorID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		DisplayName: actor.DisplayName,
		IsAgent:     actor.IsAgent,
		AgentName:   actor.AgentName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func ParseJWT(tokenString string) (*ActorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*ActorClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}
