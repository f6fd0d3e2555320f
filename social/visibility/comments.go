package visibility

// EntryView carries the privacy-relevant fields of a journal entry. It is
// deliberately small so read surfaces can build one from whatever row or
// projection they already loaded.
type EntryView struct {
	OwnerID         int64
	EntryPrivacy    Tier
	CommentsPrivacy Tier          // empty when the row predates section tiers
	CommentsScope   CommentsScope // legacy viewers|friends setting
}

// ResolveCommentsPrivacy returns the effective comments tier for an entry.
//
// Rows with an explicit comments_privacy use it untouched. Legacy rows map
// their two-valued comments_scope onto the tier model: "friends" tightens
// a non-private entry to friends, anything else inherits the entry tier.
// The mapping is idempotent; feeding a resolved value back through changes
// nothing. Keep every legacy interpretation inside this function so it can
// be deleted wholesale once the backfill has materialized all rows.
func ResolveCommentsPrivacy(v EntryView) Tier {
	if v.CommentsPrivacy != "" {
		return v.CommentsPrivacy
	}
	if v.CommentsScope == ScopeFriends && v.EntryPrivacy != TierPrivate {
		return TierFriends
	}
	return v.EntryPrivacy
}
