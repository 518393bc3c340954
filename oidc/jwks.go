package oidc

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

const (
	pemBegin     = "-----BEGIN CERTIFICATE-----"
	pemEnd       = "-----END CERTIFICATE-----"
	pemLineWidth = 64
)

// KeySet maps a key id to the PEM encoded certificate published for it in
// the issuer's JWKS.
type KeySet map[string]string

type jsonWebKey struct {
	KeyID string   `json:"kid"`
	X5c   []string `json:"x5c"`
}

type jsonWebKeySet struct {
	Keys []jsonWebKey `json:"keys"`
}

var (
	errNoKeys     = errors.New("No keys found in JWKS.")
	errUnknownKid = errors.New(`"kid" invalid, unable to lookup correct key`)
)

// prepareJWKS converts a raw JWKS document into a KeySet using the first
// x5c certificate of every key. Keys without a kid or certificate are
// skipped.
func prepareJWKS(body []byte) (KeySet, error) {
	var set jsonWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("failed to decode key set: %v", err)
	}
	if len(set.Keys) == 0 {
		return nil, errNoKeys
	}

	keys := make(KeySet, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || len(k.X5c) == 0 {
			continue
		}
		keys[k.KeyID] = convertCertToPEM(k.X5c[0])
	}
	if len(keys) == 0 {
		return nil, errNoKeys
	}
	return keys, nil
}

// convertCertToPEM wraps a base64 DER certificate in PEM armor with 64
// character lines.
func convertCertToPEM(cert string) string {
	var b strings.Builder
	b.WriteString(pemBegin)
	b.WriteByte('\n')
	for len(cert) > pemLineWidth {
		b.WriteString(cert[:pemLineWidth])
		b.WriteByte('\n')
		cert = cert[pemLineWidth:]
	}
	b.WriteString(cert)
	b.WriteByte('\n')
	b.WriteString(pemEnd)
	b.WriteByte('\n')
	return b.String()
}

// publicKey resolves the verification key for kid. A set holding a single
// key also serves tokens without a kid header.
func (ks KeySet) publicKey(kid string) (interface{}, error) {
	var data string
	if kid == "" {
		if len(ks) != 1 {
			return nil, errors.New(`"kid" empty, unable to lookup correct key`)
		}
		for _, v := range ks {
			data = v
		}
	} else {
		v, ok := ks[kid]
		if !ok {
			return nil, errUnknownKid
		}
		data = v
	}
	return parsePublicKey(data)
}

// isUnknownKid reports whether err rejected a token signed by a key the
// cached KeySet does not hold.
func isUnknownKid(err error) bool {
	var idErr *IDTokenError
	return errors.As(err, &idErr) && idErr.Msg == errUnknownKid.Error()
}

func parsePublicKey(data string) (interface{}, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("invalid PEM data")
	}
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %v", err)
		}
		return cert.PublicKey, nil
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}
