package util

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultReportTokenTTL is how long a report link stays valid.
const DefaultReportTokenTTL = 24 * time.Hour

var (
	ErrMissingSecret      = errors.New("report signing secret is not configured")
	ErrInvalidReportToken = errors.New("invalid report token")
)

// ReportSigner issues and verifies the signed report links handed out for
// completed consultations. The token subject is the consultation id.
type ReportSigner struct {
	Secret []byte
	TTL    time.Duration

	now func() time.Time
}

func NewReportSigner(secret string, ttl time.Duration) *ReportSigner {
	if ttl <= 0 {
		ttl = DefaultReportTokenTTL
	}
	return &ReportSigner{Secret: []byte(secret), TTL: ttl, now: time.Now}
}

func (s *ReportSigner) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// Issue signs an HS256 token for the consultation.
func (s *ReportSigner) Issue(consultationID uint) (string, error) {
	if len(s.Secret) == 0 {
		return "", ErrMissingSecret
	}
	now := s.clock()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(consultationID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
	})
	return token.SignedString(s.Secret)
}

// Verify checks the signature, expiry and that the token was issued for
// consultationID.
func (s *ReportSigner) Verify(tokenString string, consultationID uint) error {
	if len(s.Secret) == 0 {
		return ErrMissingSecret
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReportToken, err)
	}
	if claims.Subject != strconv.FormatUint(uint64(consultationID), 10) {
		return fmt.Errorf("%w: issued for consultation %s", ErrInvalidReportToken, claims.Subject)
	}
	return nil
}

// ReportURL returns /consultation/<id>/report?token=<jwt>.
func (s *ReportSigner) ReportURL(consultationID uint) (string, error) {
	token, err := s.Issue(consultationID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/consultation/%d/report?token=%s", consultationID, token), nil
}
