package pbb

// Scope resolution is the only place role decides what a caller sees.
// Every engine entry point calls exactly one of these before touching the
// store.
//
//   super_admin:  filter passes through unchanged
//   village_user: an explicit village_id must equal the home village
//                 (else Forbidden); an absent one is set to the home village

// ResolveVillageScope returns the effective village restriction for c given
// the requested one. A nil result means "all villages".
func ResolveVillageScope(c Caller, requested *VillageID) (*VillageID, error) {
	if c.IsAdmin() {
		return requested, nil
	}
	home, err := homeVillage(c)
	if err != nil {
		return nil, err
	}
	if requested != nil && *requested != home {
		return nil, forbidden("village %d is outside the caller's scope", *requested)
	}
	return &home, nil
}

// ScopePaymentFilter narrows f to the villages c may see.
func ScopePaymentFilter(c Caller, f PaymentFilter) (PaymentFilter, error) {
	village, err := ResolveVillageScope(c, f.VillageID)
	if err != nil {
		return PaymentFilter{}, err
	}
	f.VillageID = village
	return f, nil
}

// ScopeHamletFilter narrows f to the villages c may see.
func ScopeHamletFilter(c Caller, f HamletFilter) (HamletFilter, error) {
	village, err := ResolveVillageScope(c, f.VillageID)
	if err != nil {
		return HamletFilter{}, err
	}
	f.VillageID = village
	return f, nil
}

// AuthorizeVillage checks that c may mutate data belonging to villageID.
func AuthorizeVillage(c Caller, villageID VillageID) error {
	_, err := ResolveVillageScope(c, &villageID)
	return err
}

// RequireAdmin rejects every caller that is not a platform admin.
func RequireAdmin(c Caller) error {
	if !c.IsAdmin() {
		return forbidden("operation requires role %s", RoleSuperAdmin)
	}
	return nil
}

// Covers reports whether villageID is inside c's scope.
func (c Caller) Covers(villageID VillageID) bool {
	return AuthorizeVillage(c, villageID) == nil
}

func homeVillage(c Caller) (VillageID, error) {
	if c.Role != RoleVillageUser || c.HomeVillageID == nil {
		return 0, forbidden("caller has no village scope")
	}
	return *c.HomeVillageID, nil
}
