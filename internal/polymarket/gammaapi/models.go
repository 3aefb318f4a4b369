package gammaapi

// Profile is the public profile of a wallet as returned by /public-profile
type Profile struct {
	ProxyWallet  string `json:"proxyWallet"`
	Name         string `json:"name"`
	Pseudonym    string `json:"pseudonym"`
	Bio          string `json:"bio"`
	ProfileImage string `json:"profileImage"`
	DisplayName  bool   `json:"displayUsernamePublic"`
	CreatedAt    string `json:"createdAt"`
}

// DisplayLabel returns the best human label for the profile
func (p Profile) DisplayLabel() string {
	if p.Name != "" && p.DisplayName {
		return p.Name
	}
	if p.Pseudonym != "" {
		return p.Pseudonym
	}
	return p.Name
}
