package bracket

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Board struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	AccessCode string    `db:"access_code" json:"-"`
	// Lower values are scheduled first
	Priority  int       `db:"priority" json:"priority"`
	IsActive  bool      `db:"is_active" json:"isActive"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

const (
	accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	accessCodeLength   = 12
)

var accessCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{6,32}$`)

// NormalizeAccessCode validates a board code and returns the stored upper-case form.
func NormalizeAccessCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if !accessCodePattern.MatchString(code) {
		return "", fmt.Errorf("%w: access code must be 6-32 alphanumeric characters", ErrInvalidAccessCode)
	}
	return strings.ToUpper(code), nil
}

func GenerateAccessCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(accessCodeAlphabet)))
	for i := 0; i < accessCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate access code: %w", err)
		}
		sb.WriteByte(accessCodeAlphabet[n.Int64()])
	}
	return strings.ToUpper(sb.String()), nil
}
