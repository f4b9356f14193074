package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// HeaderHMAC carries the base64 HMAC-SHA256 of the raw webhook body.
const HeaderHMAC = "X-Shopify-Hmac-Sha256"

// HeaderWebhookID uniquely identifies one webhook delivery.
const HeaderWebhookID = "X-Shopify-Webhook-Id"

// HeaderTopic names the webhook topic, e.g. products/update.
const HeaderTopic = "X-Shopify-Topic"

// VerifyHMAC reports whether signature matches body under secret.
func VerifyHMAC(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(secret, body))
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignBase64 returns the header value a genuine delivery would carry.
func SignBase64(secret string, body []byte) string {
	return base64.StdEncoding.EncodeToString(Sign(secret, body))
}
