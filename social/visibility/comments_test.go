package visibility_test

import (
	"testing"

	"github.com/decantapp/decant/server/social/visibility"
	"github.com/stretchr/testify/assert"
)

func TestResolveCommentsPrivacy_ExplicitWins(t *testing.T) {
	v := visibility.EntryView{
		OwnerID:         1,
		EntryPrivacy:    visibility.TierPublic,
		CommentsPrivacy: visibility.TierPrivate,
		CommentsScope:   visibility.ScopeFriends,
	}
	// Explicit value beats any legacy scope.
	assert.Equal(t, visibility.TierPrivate, visibility.ResolveCommentsPrivacy(v))
}

func TestResolveCommentsPrivacy_LegacyFriendsTightens(t *testing.T) {
	for _, entryTier := range []visibility.Tier{
		visibility.TierPublic,
		visibility.TierFriendsOfFriends,
		visibility.TierFriends,
	} {
		v := visibility.EntryView{
			EntryPrivacy:  entryTier,
			CommentsScope: visibility.ScopeFriends,
		}
		assert.Equal(t, visibility.TierFriends, visibility.ResolveCommentsPrivacy(v),
			"entry tier %s", entryTier)
	}
}

func TestResolveCommentsPrivacy_LegacyFriendsOnPrivateEntry(t *testing.T) {
	v := visibility.EntryView{
		EntryPrivacy:  visibility.TierPrivate,
		CommentsScope: visibility.ScopeFriends,
	}
	// A friends scope never loosens a private entry.
	assert.Equal(t, visibility.TierPrivate, visibility.ResolveCommentsPrivacy(v))
}

func TestResolveCommentsPrivacy_ViewersInheritsEntryTier(t *testing.T) {
	for _, entryTier := range visibility.AllTiers {
		v := visibility.EntryView{
			EntryPrivacy:  entryTier,
			CommentsScope: visibility.ScopeViewers,
		}
		assert.Equal(t, entryTier, visibility.ResolveCommentsPrivacy(v))
	}
}

func TestResolveCommentsPrivacy_Idempotent(t *testing.T) {
	scopes := []visibility.CommentsScope{visibility.ScopeViewers, visibility.ScopeFriends, ""}
	for _, entryTier := range visibility.AllTiers {
		for _, scope := range scopes {
			v := visibility.EntryView{EntryPrivacy: entryTier, CommentsScope: scope}
			resolved := visibility.ResolveCommentsPrivacy(v)

			v.CommentsPrivacy = resolved
			assert.Equal(t, resolved, visibility.ResolveCommentsPrivacy(v),
				"entry=%s scope=%s", entryTier, scope)
		}
	}
}
