package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
)

// ProofSigner issues short-lived URLs for payment proof objects.  The
// object store validates the same HMAC before serving the file.
type ProofSigner struct {
	baseURL string
	secret  []byte
	ttl     time.Duration
	clock   clock.Clock
}

// NewProofSigner returns a signer for objects under baseURL.
func NewProofSigner(baseURL, secret string, ttl time.Duration, c clock.Clock) *ProofSigner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ProofSigner{baseURL: strings.TrimRight(baseURL, "/"), secret: []byte(secret), ttl: ttl, clock: c}
}

func (s *ProofSigner) sign(objectKey string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", objectKey, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedURL returns a URL for objectKey valid until the returned time.
func (s *ProofSigner) SignedURL(objectKey string) (string, time.Time, error) {
	objectKey = strings.TrimLeft(strings.TrimSpace(objectKey), "/")
	if objectKey == "" {
		return "", time.Time{}, apperr.Validation("payment has no proof object")
	}
	exp := s.clock.Now().Add(s.ttl).Truncate(time.Second)
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(exp.Unix(), 10))
	q.Set("signature", s.sign(objectKey, exp.Unix()))
	return s.baseURL + "/" + (&url.URL{Path: objectKey}).EscapedPath() + "?" + q.Encode(), exp, nil
}

// Valid checks a signature produced by SignedURL.
func (s *ProofSigner) Valid(objectKey string, expUnix int64, signature string) bool {
	if s.clock.Now().Unix() > expUnix {
		return false
	}
	want := s.sign(strings.TrimLeft(objectKey, "/"), expUnix)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}
