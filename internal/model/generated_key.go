package model

import "time"

type KeyStatus string

const (
	KeyStatusAll    KeyStatus = "all"
	KeyStatusUsed   KeyStatus = "used"
	KeyStatusUnused KeyStatus = "unused"
)

var KeyStatusValues = []string{
	string(KeyStatusAll),
	string(KeyStatusUsed),
	string(KeyStatusUnused),
}

// GeneratedKey is a key produced by the codec and persisted for redemption.
type GeneratedKey struct {
	LicenseKey            string     `db:"license_key" json:"licenseKey"`
	ProductCode           string     `db:"product_code" json:"productCode"`
	IsUsed                bool       `db:"is_used" json:"isUsed"`
	GeneratedAt           time.Time  `db:"generated_at" json:"generatedAt"`
	UsedAt                *time.Time `db:"used_at" json:"usedAt,omitempty"`
	ActivatedByHardwareID *string    `db:"activated_by_hardware_id" json:"activatedByHardwareId,omitempty"`
}

type CreateGeneratedKeyParams struct {
	LicenseKey  string
	ProductCode string
	GeneratedAt time.Time
}

type KeyStats struct {
	Total     int            `json:"total"`
	Used      int            `json:"used"`
	Unused    int            `json:"unused"`
	ByProduct map[string]int `json:"byProduct"`
}

// Matches reports whether the key belongs in a listing filtered by status.
func (k *GeneratedKey) Matches(status KeyStatus) bool {
	switch status {
	case KeyStatusUsed:
		return k.IsUsed
	case KeyStatusUnused:
		return !k.IsUsed
	default:
		return true
	}
}

// MarkUsed flips the key to used for hardwareID.
func (k *GeneratedKey) MarkUsed(hardwareID string, at time.Time) {
	k.IsUsed = true
	k.UsedAt = &at
	k.ActivatedByHardwareID = &hardwareID
}

// Reset returns the key to the unused pool.
func (k *GeneratedKey) Reset() {
	k.IsUsed = false
	k.UsedAt = nil
	k.ActivatedByHardwareID = nil
}

func (k *GeneratedKey) ActivatedBy() string {
	if k.ActivatedByHardwareID == nil {
		return ""
	}
	return *k.ActivatedByHardwareID
}
