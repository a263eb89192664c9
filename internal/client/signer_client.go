package client

import (
	"context"

	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// SignerClient calls the platform signature service, which holds the key
// material and performs the actual cryptographic check. This side only
// carries the verdict; any transport or service failure surfaces as an
// external-capability error so the verifier can fail closed.
type SignerClient struct {
	client *HTTPClient
}

// NewSignerClient creates a signature service client.
func NewSignerClient(baseURL string) *SignerClient {
	return &SignerClient{client: NewHTTPClient(baseURL)}
}

type verifySignatureRequest struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id"`
}

type verifySignatureResponse struct {
	Valid bool `json:"valid"`
}

// VerifySignature checks signature over payload with the named key.
func (c *SignerClient) VerifySignature(ctx context.Context, payload, signature, algorithm, keyID string) (bool, error) {
	req := verifySignatureRequest{
		Payload:   payload,
		Signature: signature,
		Algorithm: algorithm,
		KeyID:     keyID,
	}
	var resp verifySignatureResponse
	if err := c.client.Post(ctx, "/api/v1/signatures/verify", req, &resp); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeExternal, "signature capability unavailable")
	}
	return resp.Valid, nil
}
