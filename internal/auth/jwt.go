package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleDevice is the role carried by reader device tokens.
const RoleDevice = "device"

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload. Subject is the device id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 device tokens.
type Signer struct {
	Key        string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

func (s Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue issues signed access and refresh tokens for a device.
func (s Signer) Issue(deviceID string) (TokenPair, error) {
	if deviceID == "" {
		return TokenPair{}, errors.New("device id required")
	}
	now := s.now()
	accessExp := now.Add(s.AccessTTL)
	refreshExp := now.Add(s.RefreshTTL)

	accessToken, err := s.sign(deviceID, accessExp, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := s.sign(deviceID, refreshExp, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func (s Signer) sign(subject string, exp, now time.Time) (string, error) {
	claims := Claims{
		Role: RoleDevice,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jwtID(subject, now, exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Key))
}

// jwtID keeps access and refresh tokens issued in the same second distinct.
func jwtID(subject string, now, exp time.Time) string {
	return subject + ":" + now.Format(time.RFC3339Nano) + ":" + exp.Format(time.RFC3339)
}

// Parse validates a token and returns claims.
func (s Signer) Parse(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.Key), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if s.Issuer != "" && claims.Issuer != s.Issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Role != RoleDevice {
		return Claims{}, errors.New("not a device token")
	}
	return *claims, nil
}
