package model

import "time"

// DefaultRevokeReason is stored when an admin revokes without a reason.
const DefaultRevokeReason = "Revoked by admin"

// ActiveLicense binds a generated key to one hardware id for one product.
type ActiveLicense struct {
	ID            int64      `db:"id" json:"id"`
	LicenseKey    string     `db:"license_key" json:"licenseKey"`
	HardwareID    string     `db:"hardware_id" json:"hardwareId"`
	DeviceName    *string    `db:"device_name" json:"deviceName"`
	ProductCode   string     `db:"product_code" json:"productCode"`
	ActivatedAt   time.Time  `db:"activated_at" json:"activatedAt"`
	LastCheckAt   time.Time  `db:"last_check_at" json:"lastCheckAt"`
	IsRevoked     bool       `db:"is_revoked" json:"isRevoked"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revokedAt"`
	RevokedReason *string    `db:"revoked_reason" json:"revokedReason"`
}

type CreateActiveLicenseParams struct {
	LicenseKey  string
	HardwareID  string
	DeviceName  *string
	ProductCode string
	ActivatedAt time.Time
}

type LicenseStats struct {
	Total     int            `json:"total"`
	Active    int            `json:"active"`
	Revoked   int            `json:"revoked"`
	ByProduct map[string]int `json:"byProduct"`
}

func (l *ActiveLicense) Revoke(reason string, at time.Time) {
	l.IsRevoked = true
	l.RevokedAt = &at
	l.RevokedReason = &reason
}

func (l *ActiveLicense) Reactivate() {
	l.IsRevoked = false
	l.RevokedAt = nil
	l.RevokedReason = nil
}

func (l *ActiveLicense) Reason() string {
	if l.RevokedReason == nil || *l.RevokedReason == "" {
		return DefaultRevokeReason
	}
	return *l.RevokedReason
}
