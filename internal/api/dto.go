package api

import (
	"github.com/starford/tracemark/internal/attribution"
	"github.com/starford/tracemark/internal/issuance"
	"github.com/starford/tracemark/internal/models"
)

// RegisterIdentityRequest is the request body for registering a recipient.
type RegisterIdentityRequest struct {
	Name  string `json:"name" example:"Carol" validate:"required"`
	Email string `json:"email" example:"carol@example.com" validate:"required"`
	Phone string `json:"phone" example:"+15550100"`
}

// RegisterIdentityResponse is returned after a successful registration.
type RegisterIdentityResponse struct {
	ID int64 `json:"id" example:"3" validate:"required"`
}

// Identity is the identity response type (aliased from the domain layer).
type Identity = models.Identity

// LedgerEntry is a recorded issuance (aliased from the domain layer).
type LedgerEntry = models.LedgerEntry

// IssuanceListResponse wraps a list of issuances.
type IssuanceListResponse struct {
	Issuances []LedgerEntry `json:"issuances" validate:"required"`
}

// ScanResponse is the attribution result for a suspect artifact.
type ScanResponse = attribution.Result

// PartialIssuanceResponse is returned when a batch fails part way. The
// batch is not atomic: Issuances lists the copies that were written and
// recorded before the failure, and they stay in the ledger.
type PartialIssuanceResponse struct {
	Error     string        `json:"error" validate:"required"`
	Issuances []LedgerEntry `json:"issuances" validate:"required"`
}

// ArtifactListResponse wraps stored artifact metadata.
type ArtifactListResponse struct {
	Artifacts []models.ArtifactMetadata `json:"artifacts" validate:"required"`
}

// StatsResponse summarises the ledger.
type StatsResponse = issuance.Stats

// VerifyResponse reports which recorded sites a suspect image still carries.
type VerifyResponse = issuance.Verification
