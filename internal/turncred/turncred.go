// Package turncred issues coturn-compatible TURN REST credentials.
//
// Algorithm:
//
//	username   = <unix_expiry_timestamp>:<user>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// Expiry is computed from the server clock in UTC plus the configured TTL.
package turncred

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Generator struct {
	secret []byte
	user   string
	realm  string
	ttl    time.Duration
	now    func() time.Time
}

type GeneratorConfig struct {
	Secret string
	User   string
	Realm  string
	TTL    time.Duration
	Now    func() time.Time
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.User == "" || strings.Contains(cfg.User, ":") {
		return nil, errors.New("user is required and must not contain ':'")
	}
	if cfg.Realm == "" {
		return nil, errors.New("realm is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("ttl must be > 0")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Generator{
		secret: []byte(cfg.Secret),
		user:   cfg.User,
		realm:  cfg.Realm,
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}, nil
}

// Credentials is the /api/turn-credentials response shape.
type Credentials struct {
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	URLs       []string `json:"urls"`
}

func (g *Generator) Generate() Credentials {
	expiry := g.now().UTC().Unix() + int64(g.ttl/time.Second)
	username := fmt.Sprintf("%d:%s", expiry, g.user)

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		URLs: []string{
			fmt.Sprintf("turn:%s:3478?transport=udp", g.realm),
			fmt.Sprintf("turn:%s:3478?transport=tcp", g.realm),
		},
	}
}
