package invoice

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/cache"
)

// ProfileSource fetches the seller profile from the business API.
type ProfileSource interface {
	OrganizationProfile(ctx context.Context) (apiclient.Organization, error)
}

// OrgResolver returns the organization block printed on invoices. Upstream
// fields win; configured defaults fill the gaps and stand in when the
// profile cannot be fetched.
type OrgResolver struct {
	Source   ProfileSource
	Cache    *cache.JSON
	Defaults Organization
	Logger   zerolog.Logger
}

// Resolve never fails; it degrades to the configured defaults.
func (r *OrgResolver) Resolve(ctx context.Context) Organization {
	if r == nil {
		return Organization{}
	}
	key := cache.ClientKey(ctx, "organization")
	var cached Organization
	if ok, err := r.Cache.Get(ctx, key, &cached); err == nil && ok {
		return cached
	}
	if r.Source == nil {
		return r.Defaults
	}
	profile, err := r.Source.OrganizationProfile(ctx)
	if err != nil {
		r.Logger.Warn().Err(err).Msg("organization profile unavailable, using defaults")
		return r.Defaults
	}
	org := merge(fromProfile(profile), r.Defaults)
	if err := r.Cache.Set(ctx, key, org); err != nil {
		r.Logger.Warn().Err(err).Msg("cache organization profile")
	}
	return org
}

func fromProfile(p apiclient.Organization) Organization {
	return Organization{
		Name:    p.Name,
		GSTIN:   p.GSTIN,
		Address: p.Address,
		Phone:   p.Phone,
		Email:   p.Email,
		LogoURL: p.LogoURL,
		Bank: Bank{
			Name:    p.Bank.Name,
			Account: p.Bank.Account,
			IFSC:    p.Bank.IFSC,
			Branch:  p.Bank.Branch,
		},
	}
}

func merge(o, def Organization) Organization {
	pick := func(v, d string) string {
		if v != "" {
			return v
		}
		return d
	}
	o.Name = pick(o.Name, def.Name)
	o.GSTIN = pick(o.GSTIN, def.GSTIN)
	o.Address = pick(o.Address, def.Address)
	o.Phone = pick(o.Phone, def.Phone)
	o.Email = pick(o.Email, def.Email)
	o.LogoURL = pick(o.LogoURL, def.LogoURL)
	if o.Bank.Account == "" {
		o.Bank = def.Bank
	}
	return o
}
