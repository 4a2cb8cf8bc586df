package models

// DelegateStatus is the derived standing of a delegate for the current round.
type DelegateStatus string

const (
	StatusActive      DelegateStatus = "active"
	StatusStandby     DelegateStatus = "standby"
	StatusBanned      DelegateStatus = "banned"
	StatusPunished    DelegateStatus = "punished"
	StatusNonEligible DelegateStatus = "non-eligible"
)

// PomHeight is an inclusive block-height interval during which a delegate is punished.
type PomHeight struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Contains reports whether height lies within the interval, bounds included.
func (p PomHeight) Contains(height int64) bool {
	return p.Start <= height && height <= p.End
}

// Delegate is a registered block producer. Rank is zero when the protocol has no ranking.
type Delegate struct {
	Address         string         `json:"address"`
	PublicKey       string         `json:"publicKey"`
	SecondPublicKey string         `json:"secondPublicKey,omitempty"`
	Username        string         `json:"username"`
	Weight          uint64         `json:"delegateWeight,string"`
	Rank            int            `json:"rank,omitempty"`
	Status          DelegateStatus `json:"status"`
	IsBanned        bool           `json:"isBanned"`
	IsDelegate      bool           `json:"isDelegate"`
	PomHeights      []PomHeight    `json:"pomHeights,omitempty"`
}

// DelegateParams selects delegates. Exact filters take precedence in field order
// (Address, PublicKey, SecondPublicKey, Username); Search applies only when none is set.
type DelegateParams struct {
	Address         string
	PublicKey       string
	SecondPublicKey string
	Username        string
	Search          string
	Sort            string
	Offset          int
	Limit           int
}

// HasExactFilter reports whether one of the exact-match filters is set.
func (p DelegateParams) HasExactFilter() bool {
	return p.Address != "" || p.PublicKey != "" || p.SecondPublicKey != "" || p.Username != ""
}
