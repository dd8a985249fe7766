package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

// HsmConfig describes how to reach a YubiHSM2-style connector daemon.
type HsmConfig struct {
	Address      string // host:port of the connector
	AuthKeyID    string
	Password     string
	SigningKeyID string
}

// Hsm signs by delegating to a remote connector over HTTP. Transient
// failures (connector down, non-2xx transport error) trigger a single
// retry; authentication rejection is fatal to the slot (spec.md §4.5).
type Hsm struct {
	cfg    HsmConfig
	client *http.Client
	pubDER []byte
	log    log.Logger
}

// NewHsm constructs an Hsm signer and fetches the signing key's public
// key once, so PublicKeyDER never needs a round trip later.
func NewHsm(ctx context.Context, cfg HsmConfig, client *http.Client, logger log.Logger) (*Hsm, error) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	h := &Hsm{cfg: cfg, client: client, log: logger}
	pub, err := h.fetchPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	h.pubDER = pub
	return h, nil
}

type hsmSignRequest struct {
	RequestID    string `json:"request_id"`
	AuthKeyID    string `json:"auth_key_id"`
	Password     string `json:"password"`
	SigningKeyID string `json:"signing_key_id"`
	DigestB64    string `json:"digest_b64"`
}

type hsmSignResponse struct {
	SignatureB64 string `json:"signature_b64"`
}

type hsmPubKeyResponse struct {
	PublicKeyDERB64 string `json:"public_key_der_b64"`
}

// Sign implements Signer, retrying once on a transient (connector-down or
// non-2xx) failure, per spec.md §4.5.
func (h *Hsm) Sign(ctx context.Context, hash [32]byte) ([]byte, error) {
	sig, err := h.signOnce(ctx, hash)
	if err == nil {
		return sig, nil
	}
	if beaconerr.Is(err, beaconerr.KindSignerFatal) {
		return nil, err
	}
	h.log.Warn("hsm sign failed, retrying once", "err", err)
	return h.signOnce(ctx, hash)
}

func (h *Hsm) signOnce(ctx context.Context, hash [32]byte) ([]byte, error) {
	reqBody := hsmSignRequest{
		RequestID:    uuid.NewString(),
		AuthKeyID:    h.cfg.AuthKeyID,
		Password:     h.cfg.Password,
		SigningKeyID: h.cfg.SigningKeyID,
		DigestB64:    base64.StdEncoding.EncodeToString(hash[:]),
	}
	var resp hsmSignResponse
	if err := h.call(ctx, "/sign", reqBody, &resp); err != nil {
		return nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(resp.SignatureB64)
	if err != nil {
		return nil, beaconerr.Wrap(fmt.Errorf("signer: hsm returned malformed signature: %w", err), beaconerr.KindTransient)
	}
	return sig, nil
}

func (h *Hsm) fetchPublicKey(ctx context.Context) ([]byte, error) {
	var resp hsmPubKeyResponse
	req := map[string]string{
		"auth_key_id":    h.cfg.AuthKeyID,
		"password":       h.cfg.Password,
		"signing_key_id": h.cfg.SigningKeyID,
	}
	if err := h.call(ctx, "/public_key", req, &resp); err != nil {
		return nil, err
	}
	der, err := base64.StdEncoding.DecodeString(resp.PublicKeyDERB64)
	if err != nil {
		return nil, beaconerr.Wrap(fmt.Errorf("signer: hsm returned malformed public key: %w", err), beaconerr.KindConfig)
	}
	return der, nil
}

func (h *Hsm) call(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return beaconerr.Wrap(err, beaconerr.KindConfig)
	}
	url := fmt.Sprintf("http://%s%s", h.cfg.Address, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return beaconerr.Wrap(err, beaconerr.KindTransient)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return beaconerr.Wrap(fmt.Errorf("signer: hsm connector unreachable: %w", err), beaconerr.KindTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return beaconerr.Newf(beaconerr.KindSignerFatal, "signer: hsm rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode/100 != 2:
		return beaconerr.Newf(beaconerr.KindTransient, "signer: hsm connector returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

// PublicKeyDER implements Signer.
func (h *Hsm) PublicKeyDER() []byte {
	return h.pubDER
}
