package apiclient

import (
	"context"
	"net/http"
)

// Bank holds the remittance details printed on invoices.
type Bank struct {
	Name    string `json:"name"`
	Account string `json:"account"`
	IFSC    string `json:"ifsc"`
	Branch  string `json:"branch"`
}

// Organization is the seller profile.
type Organization struct {
	Name    string `json:"name"`
	GSTIN   string `json:"gstin"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	LogoURL string `json:"logoUrl"`
	Bank    Bank   `json:"bank"`
}

// OrganizationProfile fetches the seller profile.
func (c *Client) OrganizationProfile(ctx context.Context) (Organization, error) {
	var out Organization
	err := c.do(ctx, "organization_profile", http.MethodGet, "/organization/profile", nil, &out)
	return out, err
}
