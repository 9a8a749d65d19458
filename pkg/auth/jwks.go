package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// jwk is one entry of a JSON Web Key Set, RSA-only (the only key type any
// provider in this system's reach issues).
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDoc struct {
	Keys []jwk `json:"keys"`
}

// jwksCache fetches and caches a JWKS document, re-fetching once the cached
// copy is older than ttl or when a token names a kid the cache does not
// hold. No ready-made JWKS client exists in the dependency set this service
// draws from, so this is a small hand-rolled fetch+parse+cache (spec.md
// §4.10 "JWKS").
type jwksCache struct {
	url string
	ttl time.Duration

	httpClient *http.Client

	mu        sync.Mutex
	fetchedAt time.Time
	keys      map[string]*rsa.PublicKey
}

func newJWKSCache(url string, ttl time.Duration) *jwksCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &jwksCache{url: url, ttl: ttl, httpClient: &http.Client{Timeout: 5 * time.Second}}
}

// key returns the RSA public key for kid, fetching/refreshing the JWKS
// document if the cache is stale or the kid is unknown.
func (c *jwksCache) key(kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	stale := time.Since(c.fetchedAt) > c.ttl
	key, known := c.keys[kid]
	c.mu.Unlock()

	if known && !stale {
		return key, nil
	}
	if err := c.refresh(); err != nil {
		if known {
			return key, nil // serve stale key rather than fail a still-valid token
		}
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key, known = c.keys[kid]
	if !known {
		return nil, fmt.Errorf("auth: unknown jwks kid %q", kid)
	}
	return key, nil
}

func (c *jwksCache) refresh() error {
	req, err := http.NewRequest(http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth: fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: fetch jwks: status %d", resp.StatusCode)
	}

	var doc jwksDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("auth: decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func rsaPublicKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
