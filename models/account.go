package models

// Account is a normalized account. Delegate-related fields are empty for plain accounts.
type Account struct {
	Address         string      `json:"address"`
	PublicKey       string      `json:"publicKey,omitempty"`
	SecondPublicKey string      `json:"secondPublicKey,omitempty"`
	Username        string      `json:"username,omitempty"`
	Balance         uint64      `json:"balance,string"`
	Nonce           uint64      `json:"nonce,string"`
	IsDelegate      bool        `json:"isDelegate"`
	IsBanned        bool        `json:"isBanned,omitempty"`
	Weight          uint64      `json:"delegateWeight,string,omitempty"`
	PomHeights      []PomHeight `json:"pomHeights,omitempty"`
}

// AsDelegate projects the account onto a delegate record.
func (a Account) AsDelegate() Delegate {
	return Delegate{
		Address:         a.Address,
		PublicKey:       a.PublicKey,
		SecondPublicKey: a.SecondPublicKey,
		Username:        a.Username,
		Weight:          a.Weight,
		IsBanned:        a.IsBanned,
		IsDelegate:      a.IsDelegate,
		PomHeights:      a.PomHeights,
	}
}

// AccountParams selects accounts. Address wins over Addresses, which wins over the
// alternate keys (PublicKey, SecondPublicKey, Username).
type AccountParams struct {
	Address         string
	Addresses       []string
	PublicKey       string
	SecondPublicKey string
	Username        string
	IsDelegate      bool
	Sort            string
	Offset          int
	Limit           int
}

// IsSingleLookup reports whether the parameters identify exactly one account.
func (p AccountParams) IsSingleLookup() bool {
	return p.Address != "" || p.PublicKey != "" || p.SecondPublicKey != "" || p.Username != ""
}
