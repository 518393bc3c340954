package oidc

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
)

func TestConvertCertToPEM(t *testing.T) {
	body := strings.Repeat("A", 150)
	got := convertCertToPEM(body)

	want := "-----BEGIN CERTIFICATE-----\n" +
		strings.Repeat("A", 64) + "\n" +
		strings.Repeat("A", 64) + "\n" +
		strings.Repeat("A", 22) + "\n" +
		"-----END CERTIFICATE-----\n"
	if got != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}

	exact := convertCertToPEM(strings.Repeat("B", 64))
	if lines := strings.Split(strings.TrimSuffix(exact, "\n"), "\n"); len(lines) != 3 {
		t.Errorf("64 character body should take one line, got %d lines", len(lines)-2)
	}
}

func TestConvertCertToPEMParses(t *testing.T) {
	priv, cert := rsaKey(t)
	data := convertCertToPEM(base64.StdEncoding.EncodeToString(cert))

	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("expected a CERTIFICATE block, got %v", block)
	}
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	pub, ok := parsed.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(priv.Public()) {
		t.Errorf("certificate does not carry the signing key")
	}
}

func TestPrepareJWKS(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKids []string
		wantErr  error
	}{
		{
			name:     "first certificate of each key",
			body:     `{"keys":[{"kid":"a","x5c":["AAAA","BBBB"]},{"kid":"b","x5c":["CCCC"]}]}`,
			wantKids: []string{"a", "b"},
		},
		{
			name:     "keys without kid or x5c are skipped",
			body:     `{"keys":[{"kid":"a","x5c":["AAAA"]},{"x5c":["BBBB"]},{"kid":"c","kty":"RSA"}]}`,
			wantKids: []string{"a"},
		},
		{
			name:    "no keys",
			body:    `{"keys":[]}`,
			wantErr: errNoKeys,
		},
		{
			name:    "keys missing",
			body:    `{}`,
			wantErr: errNoKeys,
		},
		{
			name:    "only unusable keys",
			body:    `{"keys":[{"kid":"c","kty":"RSA"}]}`,
			wantErr: errNoKeys,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			keys, err := prepareJWKS([]byte(test.body))
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("expected %v, got %v", test.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(keys) != len(test.wantKids) {
				t.Fatalf("got %d keys, want %d", len(keys), len(test.wantKids))
			}
			for _, kid := range test.wantKids {
				if _, ok := keys[kid]; !ok {
					t.Errorf("missing key %q", kid)
				}
			}
		})
	}

	keys, err := prepareJWKS([]byte(`{"keys":[{"kid":"a","x5c":["AAAA","BBBB"]}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if want := convertCertToPEM("AAAA"); keys["a"] != want {
		t.Errorf("expected first x5c entry, got %q", keys["a"])
	}
}

func TestKeySetPublicKey(t *testing.T) {
	single := testKeySet(t)
	multi := KeySet{testKeyID: single[testKeyID], "other": single[testKeyID]}

	tests := []struct {
		name    string
		keys    KeySet
		kid     string
		wantErr string
	}{
		{"by kid", single, testKeyID, ""},
		{"single key without kid", single, "", ""},
		{"unknown kid", single, "nope", `"kid" invalid, unable to lookup correct key`},
		{"several keys without kid", multi, "", `"kid" empty, unable to lookup correct key`},
		{"garbage", KeySet{"x": "not pem"}, "x", "invalid PEM data"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			key, err := test.keys.publicKey(test.kid)
			if test.wantErr != "" {
				if err == nil || err.Error() != test.wantErr {
					t.Fatalf("expected error %q, got %v", test.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if _, ok := key.(*rsa.PublicKey); !ok {
				t.Errorf("expected *rsa.PublicKey, got %T", key)
			}
		})
	}
}

func TestParsePublicKeyPKIX(t *testing.T) {
	priv, _ := rsaKey(t)
	der, err := x509.MarshalPKIXPublicKey(priv.Public())
	if err != nil {
		t.Fatal(err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	key, err := parsePublicKey(string(data))
	if err != nil {
		t.Fatal(err)
	}
	if pub, ok := key.(*rsa.PublicKey); !ok || !pub.Equal(priv.Public()) {
		t.Errorf("unexpected key %v", key)
	}
}
