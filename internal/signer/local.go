package signer

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"

	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
)

// Local signs with an RSA private key loaded once from disk at startup.
// Per spec.md §4.5, Local may only fail at key-load time and is
// infallible thereafter.
type Local struct {
	priv   *rsa.PrivateKey
	pubDER []byte
}

// LoadLocal reads a PEM-encoded PKCS#8 RSA private key from path,
// decrypting it with password if the PEM block is encrypted (empty
// password for an unencrypted key).
func LoadLocal(path string, password []byte) (*Local, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, beaconerr.Wrap(fmt.Errorf("signer: read key file: %w", err), beaconerr.KindConfig)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, beaconerr.New(beaconerr.KindConfig, "signer: no PEM block found in key file")
	}

	var key any
	if len(password) > 0 {
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
	} else {
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, beaconerr.Wrap(fmt.Errorf("signer: parse PKCS#8 key: %w", err), beaconerr.KindConfig)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, beaconerr.New(beaconerr.KindConfig, "signer: key is not RSA")
	}
	if rsaKey.N.BitLen() != 2048 {
		return nil, beaconerr.Newf(beaconerr.KindConfig, "signer: key is %d bits, want 2048", rsaKey.N.BitLen())
	}

	der, err := x509.MarshalPKIXPublicKey(&rsaKey.PublicKey)
	if err != nil {
		return nil, beaconerr.Wrap(fmt.Errorf("signer: marshal public key: %w", err), beaconerr.KindConfig)
	}
	return &Local{priv: rsaKey, pubDER: der}, nil
}

// Sign implements Signer.
func (l *Local) Sign(_ context.Context, hash [32]byte) ([]byte, error) {
	sig, err := rsa.SignPKCS1v15(rand.Reader, l.priv, crypto.SHA256, hash[:])
	if err != nil {
		// Local is documented as infallible after key-load; a failure here
		// would mean corrupted key material discovered mid-run, which is
		// as serious as a bad load.
		return nil, beaconerr.Wrap(fmt.Errorf("signer: local sign: %w", err), beaconerr.KindConfig)
	}
	return sig, nil
}

// PublicKeyDER implements Signer.
func (l *Local) PublicKeyDER() []byte {
	return l.pubDER
}
