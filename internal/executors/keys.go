package executors

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
	"golang.org/x/crypto/ssh"
)

// resolveAsset looks up an asset by IP or name, shared by the SSH and
// SFTP executors (both need identical target resolution, §4.3.1/4.3.2).
func resolveAsset(ctx context.Context, s store.AssetStore, target string) (*models.Asset, error) {
	asset, err := s.FindAsset(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, target)
	}
	return asset, nil
}

// authMethodsFor builds the ssh.AuthMethod list for an asset, resolving
// its key from the keystore when auth_mode is "key".
func authMethodsFor(ctx context.Context, s store.KeyStore, asset *models.Asset) ([]ssh.AuthMethod, error) {
	switch asset.AuthMode {
	case models.AssetAuthPassword:
		return []ssh.AuthMethod{ssh.Password(asset.Password)}, nil
	case models.AssetAuthKey:
		key, err := s.GetKey(ctx, asset.KeyID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, asset.KeyID)
		}
		signer, err := parsePrivateKeyMultiAlgorithm(key.PrivateKey)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	default:
		return nil, fmt.Errorf("unknown auth_mode %q for asset %s", asset.AuthMode, asset.Name)
	}
}

// parsePrivateKeyMultiAlgorithm tries, in order, RSA (PKCS1), the
// general OpenSSH/PKCS8 formats (covers Ed25519 and ECDSA keys), and
// DSS — returning a structured error naming every attempted algorithm
// if none succeed (§4.3.1).
func parsePrivateKeyMultiAlgorithm(pemText string) (ssh.Signer, error) {
	raw := []byte(pemText)
	block, _ := pem.Decode(raw)

	var attempts []string

	// RSA — PKCS1, the classic "BEGIN RSA PRIVATE KEY" format.
	if block != nil {
		if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			if signer, serr := ssh.NewSignerFromKey(rsaKey); serr == nil {
				return signer, nil
			}
		}
	}
	attempts = append(attempts, "rsa")

	// Ed25519 / ECDSA — both commonly arrive in OpenSSH's native
	// container format, which ssh.ParsePrivateKey already detects.
	if signer, err := ssh.ParsePrivateKey(raw); err == nil {
		return signer, nil
	}
	attempts = append(attempts, "ed25519", "ecdsa")

	// DSS — the legacy "BEGIN DSA PRIVATE KEY" ASN.1 DER format.
	if block != nil {
		if dsaKey, err := ssh.ParseDSAPrivateKey(block.Bytes); err == nil {
			if signer, serr := ssh.NewSignerFromKey(dsaKey); serr == nil {
				return signer, nil
			}
		}
	}
	attempts = append(attempts, "dss")

	return nil, fmt.Errorf("%w (tried: %s)", ErrKeyParseFailed, strings.Join(attempts, ", "))
}
