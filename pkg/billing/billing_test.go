package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testVerifier() *Verifier {
	return &Verifier{
		Credentials: Credentials{
			MerchantID:   "merchant-1",
			MerchantKey:  "test-key",
			MerchantSalt: "test-salt",
			TestMode:     true,
		},
	}
}

func TestNewMerchantOID(t *testing.T) {
	companyID := uuid.New()
	at := time.Unix(1700000000, 0)

	oid := NewMerchantOID(companyID, at)

	if !hasPrefix(oid, "YAC1700000000") {
		t.Errorf("merchant_oid = %q, want prefix YAC1700000000", oid)
	}
	if len(oid) != len("YAC1700000000")+32 {
		t.Errorf("merchant_oid length = %d, want %d", len(oid), len("YAC1700000000")+32)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func TestSignIframeToken_Deterministic(t *testing.T) {
	v := testVerifier()
	req := IframeTokenRequest{
		UserIP:      "203.0.113.5",
		MerchantOID: "YAC1700000000abc",
		Email:       "alice@acme.example.com",
		AmountMinor: 490000,
		Basket:      []byte(`[["team",490000,1]]`),
		Currency:    "USD",
	}

	first := v.SignIframeToken(req)
	second := v.SignIframeToken(req)

	if first != second {
		t.Errorf("SignIframeToken is not deterministic: %q != %q", first, second)
	}
	if first == "" {
		t.Error("SignIframeToken returned empty token")
	}
}

func TestSignIframeToken_ChangesWithAmount(t *testing.T) {
	v := testVerifier()
	base := IframeTokenRequest{
		UserIP:      "203.0.113.5",
		MerchantOID: "YAC1700000000abc",
		Email:       "alice@acme.example.com",
		AmountMinor: 490000,
		Currency:    "USD",
	}
	other := base
	other.AmountMinor = 2990000

	if v.SignIframeToken(base) == v.SignIframeToken(other) {
		t.Error("SignIframeToken should change when AmountMinor changes")
	}
}

func TestVerifyHash(t *testing.T) {
	v := testVerifier()
	cb := Callback{
		MerchantOID: "YAC1700000000abc",
		Status:      "success",
		TotalAmount: "490000",
	}
	cb.Hash = signCallback(v, cb)

	if !v.VerifyHash(cb) {
		t.Error("VerifyHash rejected a correctly signed callback")
	}
}

func TestVerifyHash_RejectsTamperedAmount(t *testing.T) {
	v := testVerifier()
	cb := Callback{
		MerchantOID: "YAC1700000000abc",
		Status:      "success",
		TotalAmount: "490000",
	}
	cb.Hash = signCallback(v, cb)
	cb.TotalAmount = "1" // tamper after signing

	if v.VerifyHash(cb) {
		t.Error("VerifyHash accepted a callback with a tampered total_amount")
	}
}

func TestVerifyHash_RejectsWrongKey(t *testing.T) {
	v := testVerifier()
	cb := Callback{
		MerchantOID: "YAC1700000000abc",
		Status:      "success",
		TotalAmount: "490000",
	}
	cb.Hash = signCallback(v, cb)

	other := testVerifier()
	other.Credentials.MerchantKey = "different-key"
	if other.VerifyHash(cb) {
		t.Error("VerifyHash accepted a callback signed under a different merchant key")
	}
}

// signCallback reproduces the gateway's inbound HMAC so tests can construct
// callbacks with a hash that VerifyHash will accept.
func signCallback(v *Verifier, cb Callback) string {
	payload := cb.MerchantOID + v.Credentials.MerchantSalt + cb.Status + cb.TotalAmount
	mac := hmac.New(sha256.New, []byte(v.Credentials.MerchantKey))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
