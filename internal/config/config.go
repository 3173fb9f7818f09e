package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr      string
	DBDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JWTIssuer     string
	JWTSecret     string
	JWTTTL        time.Duration
	InternalToken string
	WalletLockTTL time.Duration
	AssetLockTTL  time.Duration
	IdempotencyTTL time.Duration
	OrderTTL      time.Duration
	SweepInterval time.Duration
	WSOrigin      string
	ProjectMode   string
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.RedisAddr = os.Getenv("REDIS_ADDR")
	if c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c, errors.New("invalid REDIS_DB")
		}
		c.RedisDB = n
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		missing = append(missing, "JWT_TTL")
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	c.InternalToken = os.Getenv("INTERNAL_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_TOKEN")
	}
	var err error
	if c.WalletLockTTL, err = duration("WALLET_LOCK_TTL", 7*time.Second); err != nil {
		return c, err
	}
	if c.AssetLockTTL, err = duration("ASSET_LOCK_TTL", 8*time.Second); err != nil {
		return c, err
	}
	if c.IdempotencyTTL, err = duration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return c, err
	}
	if c.OrderTTL, err = duration("ORDER_TTL", 2*time.Minute); err != nil {
		return c, err
	}
	if c.SweepInterval, err = duration("SWEEP_INTERVAL", 4*time.Second); err != nil {
		return c, err
	}
	c.WSOrigin = os.Getenv("WS_ORIGIN")
	if c.WSOrigin == "" {
		c.WSOrigin = "*"
	}
	c.ProjectMode = strings.ToLower(strings.TrimSpace(os.Getenv("PROJECT_MODE")))
	if c.ProjectMode == "" {
		c.ProjectMode = "development"
	}
	if c.ProjectMode != "development" && c.ProjectMode != "production" {
		return c, errors.New("invalid PROJECT_MODE: use development or production")
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func duration(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return d, nil
}
