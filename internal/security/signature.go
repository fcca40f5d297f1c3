package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"

	webhookSecretPrefix = "whsec_"
	maxWebhookSkew      = 5 * time.Minute
)

var (
	ErrSignatureMissing = errors.New("signature headers missing")
	ErrSignatureExpired = errors.New("signature timestamp outside tolerance")
	ErrSignatureInvalid = errors.New("signature mismatch")
)

// ComputeWebhookSignature signs "<id>.<timestamp>.<body>" with the decoded secret.
func ComputeWebhookSignature(secret string, id string, timestamp string, body []byte) (string, error) {
	key, err := decodeWebhookSecret(secret)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifyWebhook validates the prediction service's signed callback headers.
// The signature header may carry several space separated "v1,<sig>" entries.
func VerifyWebhook(secret string, header http.Header, body []byte, now time.Time) error {
	id := header.Get(HeaderWebhookID)
	timestamp := header.Get(HeaderWebhookTimestamp)
	signatures := header.Get(HeaderWebhookSignature)
	if id == "" || timestamp == "" || signatures == "" {
		return ErrSignatureMissing
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	sent := time.Unix(unix, 0)
	if now.Sub(sent) > maxWebhookSkew || sent.Sub(now) > maxWebhookSkew {
		return ErrSignatureExpired
	}

	expected, err := ComputeWebhookSignature(secret, id, timestamp, body)
	if err != nil {
		return err
	}
	for _, entry := range strings.Fields(signatures) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

func decodeWebhookSecret(secret string) ([]byte, error) {
	if !strings.HasPrefix(secret, webhookSecretPrefix) {
		return []byte(secret), nil
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, webhookSecretPrefix))
	if err != nil {
		return nil, errors.New("malformed webhook secret")
	}
	return key, nil
}
