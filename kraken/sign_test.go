package kraken

import (
	"encoding/base64"
	"testing"
)

// Vector from the exchange's API documentation.
func TestSignKnownVector(t *testing.T) {
	secret, err := base64.StdEncoding.DecodeString("kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg==")
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}

	got := sign(secret,
		"/0/private/AddOrder",
		"1616492376594",
		"nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25",
	)
	want := "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ=="
	if got != want {
		t.Errorf("sign mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestSignVariesWithInputs(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	base := sign(secret, "/0/private/Balance", "1", "nonce=1")
	if base != sign(secret, "/0/private/Balance", "1", "nonce=1") {
		t.Error("sign is not deterministic")
	}
	if base == sign(secret, "/0/private/Balance", "2", "nonce=2") {
		t.Error("sign ignores the nonce")
	}
	if base == sign(secret, "/0/private/AddOrder", "1", "nonce=1") {
		t.Error("sign ignores the path")
	}
}
