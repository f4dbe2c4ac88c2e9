package billing

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"
	"time"
)

// Auth methods reported by VerifyResult.
const (
	AuthMethodSharedSecret = "shared_secret"
	AuthMethodHMAC         = "hmac"
	AuthMethodTimestamped  = "hmac_timestamped"
)

var signatureHeaders = []string{
	"x-crowdsplit-signature",
	"x-webhook-signature",
	"x-signature",
	"signature",
	"stripe-signature",
}

// HeaderGetter reads a request header by name.
type HeaderGetter func(key string) string

// VerifierConfig holds the secrets of one provider. Empty secrets disable the scheme.
type VerifierConfig struct {
	SharedSecret string
	HMACSecret   string
	// Tolerance bounds the age of t=,v1= signatures. Zero disables the check.
	Tolerance time.Duration
}

type VerifyResult struct {
	Authorized bool
	Method     string
	Detail     string
}

// Verifier authenticates webhook deliveries.
type Verifier struct {
	cfg VerifierConfig
	now func() time.Time
}

func NewVerifier(cfg VerifierConfig) *Verifier {
	return &Verifier{cfg: cfg, now: time.Now}
}

// Verify accepts a delivery when any configured scheme succeeds.
func (v *Verifier) Verify(header HeaderGetter, rawBody []byte) VerifyResult {
	if v.cfg.SharedSecret != "" {
		if token := bearerOrBasic(header("Authorization")); token != "" {
			if constantTimeEqual(token, v.cfg.SharedSecret) {
				return VerifyResult{Authorized: true, Method: AuthMethodSharedSecret}
			}
		}
		if s := strings.TrimSpace(header("x-webhook-secret")); s != "" && constantTimeEqual(s, v.cfg.SharedSecret) {
			return VerifyResult{Authorized: true, Method: AuthMethodSharedSecret}
		}
	}

	hmacSecret := v.cfg.HMACSecret
	if hmacSecret == "" {
		return VerifyResult{Detail: "no matching credentials"}
	}

	// Every present signature header gets a chance; the first failure is reported.
	failure := ""
	for _, name := range signatureHeaders {
		sig := strings.TrimSpace(header(name))
		if sig == "" {
			continue
		}
		detail := ""
		if strings.Contains(sig, "t=") && strings.Contains(sig, "v1=") {
			ok, d := v.verifyTimestamped(sig, rawBody, hmacSecret)
			if ok {
				return VerifyResult{Authorized: true, Method: AuthMethodTimestamped}
			}
			detail = d
		} else if VerifyHMACSignature(rawBody, sig, hmacSecret) {
			return VerifyResult{Authorized: true, Method: AuthMethodHMAC}
		} else {
			detail = "signature mismatch for " + name + " (" + Truncate(sig) + ")"
		}
		if failure == "" {
			failure = detail
		}
	}
	if failure != "" {
		return VerifyResult{Detail: failure}
	}
	return VerifyResult{Detail: "no matching credentials"}
}

// VerifyHMACSignature checks a hex signature, optionally prefixed with sha256= or sha1=.
// SHA-256 is tried first, SHA-1 is kept for legacy senders.
func VerifyHMACSignature(payload []byte, signature, secret string) bool {
	sig := strings.TrimSpace(signature)
	if sig == "" || secret == "" {
		return false
	}
	var candidates []func() hash.Hash
	switch {
	case strings.HasPrefix(sig, "sha256="):
		sig = strings.TrimPrefix(sig, "sha256=")
		candidates = []func() hash.Hash{sha256.New}
	case strings.HasPrefix(sig, "sha1="):
		sig = strings.TrimPrefix(sig, "sha1=")
		candidates = []func() hash.Hash{sha1.New}
	default:
		candidates = []func() hash.Hash{sha256.New, sha1.New}
	}

	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	for _, h := range candidates {
		if verifyHMAC(payload, decoded, []byte(secret), h) {
			return true
		}
	}
	return false
}

// VerifyPayloadSecret compares a secret embedded in the JSON body.
func VerifyPayloadSecret(payloadSecret, secret string) bool {
	if payloadSecret == "" || secret == "" {
		return false
	}
	return constantTimeEqual(payloadSecret, secret)
}

func (v *Verifier) verifyTimestamped(header string, payload []byte, secret string) (bool, string) {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			if sig == "" {
				sig = kv[1]
			}
		}
	}
	if ts == "" || sig == "" {
		return false, "incomplete timestamped signature"
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, "invalid signature timestamp"
	}
	if v.cfg.Tolerance > 0 {
		age := v.now().Sub(time.Unix(unix, 0))
		if age < 0 {
			age = -age
		}
		if age > v.cfg.Tolerance {
			return false, "signature timestamp outside tolerance"
		}
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false, "signature is not hex (" + Truncate(sig) + ")"
	}
	signed := append([]byte(ts+"."), payload...)
	if !verifyHMAC(signed, decoded, []byte(secret), sha256.New) {
		return false, "timestamped signature mismatch (" + Truncate(sig) + ")"
	}
	return true, ""
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}

func bearerOrBasic(authorization string) string {
	a := strings.TrimSpace(authorization)
	for _, scheme := range []string{"Basic ", "Bearer "} {
		if len(a) > len(scheme) && strings.EqualFold(a[:len(scheme)], scheme) {
			return strings.TrimSpace(a[len(scheme):])
		}
	}
	return ""
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Truncate shortens a credential for log output.
func Truncate(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "..."
}
