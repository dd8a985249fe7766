package signer

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
	"github.com/twine-protocol/beacon-in-a-box/internal/testlog"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

func testLogger(t testing.TB) log.Logger {
	return testlog.Logger(t, log.LevelCrit)
}

func writeTestKey(t *testing.T) string {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestLocalSignAndVerify(t *testing.T) {
	path := writeTestKey(t)
	l, err := LoadLocal(path, nil)
	require.NoError(t, err)

	hash := sha256.Sum256([]byte("payload"))
	sig, err := l.Sign(context.Background(), hash)
	require.NoError(t, err)

	pub, err := x509.ParsePKIXPublicKey(l.PublicKeyDER())
	require.NoError(t, err)
	rsaPub := pub.(*rsa.PublicKey)
	require.NoError(t, rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, hash[:], sig))
}

func TestLocalRejectsNonRSAKeySize(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	_, err = LoadLocal(path, nil)
	require.Error(t, err)
	require.True(t, beaconerr.Is(err, beaconerr.KindConfig))
}

func hsmServer(t *testing.T, authFails bool) *httptest.Server {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authFails {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/public_key":
			json.NewEncoder(w).Encode(hsmPubKeyResponse{PublicKeyDERB64: base64.StdEncoding.EncodeToString(der)})
		case "/sign":
			var req hsmSignRequest
			json.NewDecoder(r.Body).Decode(&req)
			digest, _ := base64.StdEncoding.DecodeString(req.DigestB64)
			sig, _ := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest)
			json.NewEncoder(w).Encode(hsmSignResponse{SignatureB64: base64.StdEncoding.EncodeToString(sig)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestHsmSignSuccess(t *testing.T) {
	srv := hsmServer(t, false)
	defer srv.Close()

	cfg := HsmConfig{Address: srv.Listener.Addr().String(), AuthKeyID: "a", Password: "p", SigningKeyID: "k"}
	h, err := NewHsm(context.Background(), cfg, srv.Client(), testLogger(t))
	require.NoError(t, err)
	require.NotEmpty(t, h.PublicKeyDER())

	hash := sha256.Sum256([]byte("payload"))
	sig, err := h.Sign(context.Background(), hash)
	require.NoError(t, err)
	require.NotEmpty(t, sig)
}

func TestHsmAuthRejectionIsFatal(t *testing.T) {
	srv := hsmServer(t, true)
	defer srv.Close()

	cfg := HsmConfig{Address: srv.Listener.Addr().String(), AuthKeyID: "a", Password: "wrong", SigningKeyID: "k"}
	_, err := NewHsm(context.Background(), cfg, srv.Client(), testLogger(t))
	require.Error(t, err)
	require.True(t, beaconerr.Is(err, beaconerr.KindSignerFatal))
}
