package progress

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTicketTTL = 10 * time.Minute

// Tickets signs short-lived tokens that scope a subscriber to one
// operation feed.
type Tickets struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTickets(secret string, ttl time.Duration) *Tickets {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &Tickets{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *Tickets) Issue(operationID string) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"sub": operationID,
		"iat": now.Unix(),
		"exp": now.Add(t.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign ticket: %w", err)
	}
	return signed, nil
}

// Validate checks that ticket is signed, unexpired and issued for
// operationID.
func (t *Tickets) Validate(ticket, operationID string) error {
	token, err := jwt.Parse(ticket, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTicket, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return ErrInvalidTicket
	}
	if sub, _ := claims["sub"].(string); sub != operationID {
		return fmt.Errorf("%w: issued for another operation", ErrInvalidTicket)
	}
	return nil
}
