package visibility

// Tier is a privacy tier carried by an entry or one of its sections.
type Tier string

const (
	TierPublic           Tier = "public"
	TierFriendsOfFriends Tier = "friends_of_friends"
	TierFriends          Tier = "friends"
	TierPrivate          Tier = "private"
)

// AllTiers lists every tier, most open first.
var AllTiers = []Tier{TierPublic, TierFriendsOfFriends, TierFriends, TierPrivate}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierPublic, TierFriendsOfFriends, TierFriends, TierPrivate:
		return true
	}
	return false
}

// Rank orders tiers by openness: private=0 up to public=3. Unknown
// tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierPrivate:
		return 0
	case TierFriends:
		return 1
	case TierFriendsOfFriends:
		return 2
	case TierPublic:
		return 3
	}
	return -1
}

// CommentsScope is the legacy two-valued comments setting that predates
// per-section tiers. It survives only on old entry rows.
type CommentsScope string

const (
	ScopeViewers CommentsScope = "viewers"
	ScopeFriends CommentsScope = "friends"
)

// Relationship classifies a viewer relative to a content owner.
type Relationship string

const (
	RelationshipSelf           Relationship = "self"
	RelationshipDirectFriend   Relationship = "direct_friend"
	RelationshipFriendOfFriend Relationship = "friend_of_friend"
	RelationshipStranger       Relationship = "stranger"
)

// AllRelationships lists every relationship class, closest first.
var AllRelationships = []Relationship{
	RelationshipSelf,
	RelationshipDirectFriend,
	RelationshipFriendOfFriend,
	RelationshipStranger,
}

// decisionTable is the product's visibility matrix: tier rows against
// relationship columns. Blocks are resolved before the table is consulted,
// so a blocked pair never reaches it.
var decisionTable = map[Tier]map[Relationship]bool{
	TierPublic: {
		RelationshipSelf:           true,
		RelationshipDirectFriend:   true,
		RelationshipFriendOfFriend: true,
		RelationshipStranger:       true,
	},
	TierFriendsOfFriends: {
		RelationshipSelf:           true,
		RelationshipDirectFriend:   true,
		RelationshipFriendOfFriend: true,
		RelationshipStranger:       false,
	},
	TierFriends: {
		RelationshipSelf:           true,
		RelationshipDirectFriend:   true,
		RelationshipFriendOfFriend: false,
		RelationshipStranger:       false,
	},
	TierPrivate: {
		RelationshipSelf:           true,
		RelationshipDirectFriend:   false,
		RelationshipFriendOfFriend: false,
		RelationshipStranger:       false,
	},
}

// Allows reports whether a relationship may read content at the given
// tier. Every read decision in the service funnels through this table;
// no call site carries its own copy.
func Allows(rel Relationship, tier Tier) bool {
	return decisionTable[tier][rel]
}

// TiersFor returns the tiers rel may read, most open first. Used to
// filter list queries by tier instead of checking rows one by one.
func TiersFor(rel Relationship) []Tier {
	out := make([]Tier, 0, len(AllTiers))
	for _, t := range AllTiers {
		if Allows(rel, t) {
			out = append(out, t)
		}
	}
	return out
}
