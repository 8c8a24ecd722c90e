// Package models defines the domain types for Tracemark.
package models

import "time"

// Identity is a registered recipient. Identities are immutable once created.
type Identity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// MarkerToken is a human-traceable issuance label. It is not a secret.
type MarkerToken string

// RGB is an 8-bit colour triple.
type RGB [3]uint8

// Site is one perturbed pixel: its coordinate and the colour written there.
type Site struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Color RGB `json:"color"`
}

// PerturbationRecord lists the sites changed during one embedding, in the
// order they were applied. Coordinates may repeat.
type PerturbationRecord []Site

// LedgerEntry ties an issued artifact's fingerprint to its recipient.
type LedgerEntry struct {
	ID            int64              `json:"id"`
	IdentityID    int64              `json:"identity_id"`
	ArtifactRef   string             `json:"artifact_ref"`
	Token         MarkerToken        `json:"marker_token"`
	Fingerprint   string             `json:"fingerprint"`
	Perturbation  PerturbationRecord `json:"perturbation"`
	ConnectedName string             `json:"connected_name"`
	IssuedAt      time.Time          `json:"issued_at"`
}

// ArtifactMetadata is a lightweight view of a stored artifact.
type ArtifactMetadata struct {
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	Size        int64     `json:"size"`
	UpdatedAt   time.Time `json:"updated_at"`
}
