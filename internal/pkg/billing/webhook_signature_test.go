package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

func stripeHeader(payload []byte, secret string, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyStripeSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	secret := "whsec_test"
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)

	t.Run("valid signature", func(t *testing.T) {
		header := stripeHeader(payload, secret, now)
		if !VerifyStripeSignature(payload, header, secret, 5*time.Minute, now) {
			t.Fatal("valid signature rejected")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := stripeHeader(payload, "whsec_other", now)
		if VerifyStripeSignature(payload, header, secret, 5*time.Minute, now) {
			t.Fatal("signature from wrong secret accepted")
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		header := stripeHeader(payload, secret, now)
		if VerifyStripeSignature([]byte(`{"id":"evt_2"}`), header, secret, 5*time.Minute, now) {
			t.Fatal("tampered payload accepted")
		}
	})

	t.Run("stale timestamp rejected", func(t *testing.T) {
		header := stripeHeader(payload, secret, now.Add(-10*time.Minute))
		if VerifyStripeSignature(payload, header, secret, 5*time.Minute, now) {
			t.Fatal("replayed delivery accepted")
		}
	})

	t.Run("stale timestamp allowed without tolerance", func(t *testing.T) {
		header := stripeHeader(payload, secret, now.Add(-24*time.Hour))
		if !VerifyStripeSignature(payload, header, secret, 0, now) {
			t.Fatal("tolerance 0 should disable the timestamp check")
		}
	})

	t.Run("one matching candidate among several v1 values", func(t *testing.T) {
		withExtra := stripeHeader(payload, secret, now) + ",v1=" + hex.EncodeToString(make([]byte, 32))
		if !VerifyStripeSignature(payload, withExtra, secret, 5*time.Minute, now) {
			t.Fatal("matching candidate among multiple v1 values rejected")
		}
	})

	t.Run("garbage header", func(t *testing.T) {
		for _, header := range []string{"", "t=abc", "v1=zz", "t=123", "nonsense"} {
			if VerifyStripeSignature(payload, header, secret, 5*time.Minute, now) {
				t.Fatalf("header %q accepted", header)
			}
		}
	})

	t.Run("empty secret", func(t *testing.T) {
		header := stripeHeader(payload, secret, now)
		if VerifyStripeSignature(payload, header, "", 5*time.Minute, now) {
			t.Fatal("empty secret accepted")
		}
	})
}

func mercadoPagoHeader(dataID, requestID, ts, secret string) string {
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyMercadoPagoSignature(t *testing.T) {
	secret := "mp_secret"

	t.Run("valid signature", func(t *testing.T) {
		header := mercadoPagoHeader("12345", "req-1", "1749556800", secret)
		if !VerifyMercadoPagoSignature("12345", "req-1", header, secret) {
			t.Fatal("valid signature rejected")
		}
	})

	t.Run("data id is lowercased in the manifest", func(t *testing.T) {
		header := mercadoPagoHeader("abc123", "req-1", "1749556800", secret)
		if !VerifyMercadoPagoSignature("ABC123", "req-1", header, secret) {
			t.Fatal("uppercase data id should verify against lowercase manifest")
		}
	})

	t.Run("wrong request id", func(t *testing.T) {
		header := mercadoPagoHeader("12345", "req-1", "1749556800", secret)
		if VerifyMercadoPagoSignature("12345", "req-2", header, secret) {
			t.Fatal("signature with wrong request id accepted")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := mercadoPagoHeader("12345", "req-1", "1749556800", "other")
		if VerifyMercadoPagoSignature("12345", "req-1", header, secret) {
			t.Fatal("signature from wrong secret accepted")
		}
	})

	t.Run("missing pieces", func(t *testing.T) {
		header := mercadoPagoHeader("12345", "req-1", "1749556800", secret)
		if VerifyMercadoPagoSignature("", "req-1", header, secret) {
			t.Fatal("empty data id accepted")
		}
		if VerifyMercadoPagoSignature("12345", "req-1", "", secret) {
			t.Fatal("empty header accepted")
		}
		if VerifyMercadoPagoSignature("12345", "req-1", header, "") {
			t.Fatal("empty secret accepted")
		}
		if VerifyMercadoPagoSignature("12345", "req-1", "ts=1,v1=notgoodhex", secret) {
			t.Fatal("non-hex v1 accepted")
		}
	})
}
