package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/commons-ledger/be-tranche-core/internal/client"
	"github.com/commons-ledger/be-tranche-core/internal/config"
	"github.com/commons-ledger/be-tranche-core/internal/logger"
	"github.com/commons-ledger/be-tranche-core/internal/repository"
)

// Verification failure reasons. HashMismatch on a previously verified
// attestation means the stored content no longer matches its hash — a
// tamper condition, not a transient failure.
const (
	VerifyReasonOK               = "Verified"
	VerifyReasonHashMismatch     = "HashMismatch"
	VerifyReasonMissingField     = "MissingField"
	VerifyReasonUnsupportedAlgo  = "UnsupportedAlgorithm"
	VerifyReasonSignatureInvalid = "SignatureInvalid"
	VerifyReasonCapabilityError  = "CapabilityError"
	VerifyReasonTooOld           = "AttestationTooOld"
)

// VerificationResult is the verdict of one verification run.
type VerificationResult struct {
	Verified bool
	Reason   string
}

// supportedAlgorithms lists the signature algorithms the platform signer
// can check. Anything else fails closed.
var supportedAlgorithms = map[string]bool{
	"RS256": true,
	"ES256": true,
	"EdDSA": true,
}

// AttestationVerifier validates an attestation's content hash and
// signature against its declared invoice. It holds no key material; the
// cryptographic check is delegated to the external signature capability
// and every failure mode of that boundary reads as "not verified".
type AttestationVerifier struct {
	attestations AttestationStore
	signer       SignatureChecker
	audit        Auditor
	maxAge       time.Duration
	log          *logger.Logger
	now          func() time.Time
}

// NewAttestationVerifier creates a verifier with the configured recency
// policy.
func NewAttestationVerifier(
	attestations AttestationStore,
	signer SignatureChecker,
	audit Auditor,
	policy config.PolicyConfig,
	log *logger.Logger,
) *AttestationVerifier {
	return &AttestationVerifier{
		attestations: attestations,
		signer:       signer,
		audit:        audit,
		maxAge:       policy.AttestationMaxAge,
		log:          log,
		now:          time.Now,
	}
}

// Verify checks a single attestation. When payload is non-nil the
// content hash is recomputed and compared to the stored file_hash;
// otherwise the stored hash is taken as the signed payload directly (the
// media sits in object storage owned by the upload pipeline). Verify is
// idempotent: re-running it against unchanged inputs reproduces the same
// result.
func (v *AttestationVerifier) Verify(ctx context.Context, att *repository.Attestation, payload []byte) VerificationResult {
	if att.FileHash == "" || att.Signature == "" || att.SignatureAlgorithm == "" {
		return VerificationResult{Reason: VerifyReasonMissingField}
	}
	if att.PublicKeyID == nil || *att.PublicKeyID == "" {
		return VerificationResult{Reason: VerifyReasonMissingField}
	}
	if !supportedAlgorithms[att.SignatureAlgorithm] {
		return VerificationResult{Reason: VerifyReasonUnsupportedAlgo}
	}
	if v.maxAge > 0 && v.now().Sub(att.CreatedAt) > v.maxAge {
		return VerificationResult{Reason: VerifyReasonTooOld}
	}

	if payload != nil {
		sum := sha256.Sum256(payload)
		if hex.EncodeToString(sum[:]) != att.FileHash {
			return VerificationResult{Reason: VerifyReasonHashMismatch}
		}
	}

	valid, err := v.signer.VerifySignature(ctx, att.FileHash, att.Signature, att.SignatureAlgorithm, *att.PublicKeyID)
	if err != nil {
		v.log.Warn().Err(err).
			Str("attestation_id", att.ID).
			Msg("Signature capability failed; treating as unverified")
		return VerificationResult{Reason: VerifyReasonCapabilityError}
	}
	if !valid {
		return VerificationResult{Reason: VerifyReasonSignatureInvalid}
	}
	return VerificationResult{Verified: true, Reason: VerifyReasonOK}
}

// VerifyAndRecord runs Verify for a stored attestation and persists the
// outcome. A previously verified attestation whose recomputed hash now
// diverges is downgraded to unverified with HashMismatch.
func (v *AttestationVerifier) VerifyAndRecord(ctx context.Context, attestationID string, payload []byte, actorID string) (VerificationResult, error) {
	att, err := v.attestations.GetByID(ctx, attestationID)
	if err != nil {
		return VerificationResult{}, err
	}

	result := v.Verify(ctx, att, payload)

	if err := v.attestations.MarkVerified(ctx, att.ID, result.Verified, actorID); err != nil {
		return result, err
	}

	outcome := "denied"
	if result.Verified {
		outcome = "success"
	}
	v.audit.Publish(ctx, client.AuditEvent{
		ActorID:      actorID,
		ActorType:    "user",
		Action:       "attestation_verified",
		ResourceType: "attestation",
		ResourceID:   att.ID,
		Result:       outcome,
		Reason:       result.Reason,
		Details:      map[string]any{"invoice_id": att.InvoiceID, "type": att.AttestationType},
	})

	v.log.Info().
		Str("attestation_id", att.ID).
		Str("invoice_id", att.InvoiceID).
		Bool("verified", result.Verified).
		Str("reason", result.Reason).
		Msg("Attestation verification recorded")

	return result, nil
}

// VerifyLatestForInvoice evaluates the invoice's most recent attestation
// without touching stored state — the re-check used as an activation
// guard. A missing attestation reads as a MissingField denial.
func (v *AttestationVerifier) VerifyLatestForInvoice(ctx context.Context, invoiceID string) VerificationResult {
	att, err := v.attestations.LatestByInvoice(ctx, invoiceID)
	if err != nil {
		return VerificationResult{Reason: VerifyReasonMissingField}
	}
	return v.Verify(ctx, att, nil)
}
