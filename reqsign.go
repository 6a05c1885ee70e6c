package webinar

import (
	"crypto"
	"crypto/hmac"
	"fmt"
)

// createSignature takes a request body and a secret and returns the signature
// Webex puts in the X-Spark-Signature header: hex-encoded HMAC-SHA1.
func createSignature(body []byte, secret []byte) ([]byte, error) {
	mac := hmac.New(crypto.SHA1.New, secret)
	_, err := mac.Write(body)
	if err != nil {
		return nil, fmt.Errorf("mac.Write: %w", err)
	}
	calculatedMAC := mac.Sum(nil)
	signature := []byte(fmt.Sprintf("%x", calculatedMAC))
	return signature, nil
}

// verifySignature checks a webhook body against the X-Spark-Signature header
// value in constant time.
func verifySignature(body []byte, secret []byte, signature string) bool {
	want, err := createSignature(body, secret)
	if err != nil {
		return false
	}
	return hmac.Equal(want, []byte(signature))
}
