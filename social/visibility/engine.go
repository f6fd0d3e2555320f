package visibility

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrRelationshipLookup wraps graph reads that could not be answered. It
// must propagate to the caller (HTTP surfaces answer 503); substituting an
// allow or a deny here would corrupt the privacy contract.
var ErrRelationshipLookup = errors.New("visibility: relationship lookup failed")

// ErrInvalidTier reports a privacy value outside the known tiers reaching
// a decision point. It is a data bug, not a deny.
var ErrInvalidTier = errors.New("visibility: invalid privacy tier")

// errFoundFoF aborts the friend-of-friend probe once any branch hits.
var errFoundFoF = errors.New("visibility: found")

const defaultFanout = 8

// FriendEdge is one accepted friendship row. Direction is a storage
// detail; the graph is undirected.
type FriendEdge struct {
	RequesterID int64
	RecipientID int64
}

// Other returns the edge endpoint that is not userID.
func (e FriendEdge) Other(userID int64) int64 {
	if e.RequesterID == userID {
		return e.RecipientID
	}
	return e.RequesterID
}

// FriendEdgeStore reads accepted friendship edges touching a user.
type FriendEdgeStore interface {
	AcceptedEdges(ctx context.Context, userID int64) ([]FriendEdge, error)
}

// BlockStore reads directed blocks.
type BlockStore interface {
	BlockExists(ctx context.Context, blockerID, blockedID int64) (bool, error)
}

// Engine answers every "may this viewer see this?" question in one place.
// It holds no state beyond its stores: each call reads the live graph, so
// an unfriend or block takes effect on the next request.
type Engine struct {
	friends FriendEdgeStore
	blocks  BlockStore
	fanout  int
	logger  *zap.Logger
}

// NewEngine creates the visibility engine. fanout caps the concurrent
// per-friend reads of the two-hop walk; values below 1 fall back to the
// default.
func NewEngine(friends FriendEdgeStore, blocks BlockStore, fanout int, logger *zap.Logger) *Engine {
	if fanout < 1 {
		fanout = defaultFanout
	}
	return &Engine{friends: friends, blocks: blocks, fanout: fanout, logger: logger}
}

func lookupErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRelationshipLookup, op, err)
}

// AcceptedFriendIDs returns the IDs on the other end of every accepted
// edge touching userID. The result never contains userID itself; a user
// with no friends gets an empty set, not an error.
func (e *Engine) AcceptedFriendIDs(ctx context.Context, userID int64) (IDSet, error) {
	edges, err := e.friends.AcceptedEdges(ctx, userID)
	if err != nil {
		return nil, lookupErr(fmt.Sprintf("accepted edges of user %d", userID), err)
	}
	out := make(IDSet, len(edges))
	for _, edge := range edges {
		if other := edge.Other(userID); other != userID {
			out.Add(other)
		}
	}
	return out, nil
}

// FriendsOfFriends returns the users exactly two hops from viewerID: the
// union of each direct friend's accepted set, minus the viewer and the
// direct friends themselves. direct is the viewer's accepted set when the
// caller already holds it; pass nil to have the walk fetch it.
//
// The per-friend reads run concurrently under the fanout cap. One failed
// read fails the whole walk: a partial set would silently hide or expose
// entries.
func (e *Engine) FriendsOfFriends(ctx context.Context, viewerID int64, direct IDSet) (IDSet, error) {
	if direct == nil {
		var err error
		direct, err = e.AcceptedFriendIDs(ctx, viewerID)
		if err != nil {
			return nil, err
		}
	}

	result := make(IDSet)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fanout)
	for friendID := range direct {
		friendID := friendID
		g.Go(func() error {
			theirs, err := e.AcceptedFriendIDs(gctx, friendID)
			if err != nil {
				return err
			}
			mu.Lock()
			for id := range theirs {
				result.Add(id)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Remove(viewerID)
	for id := range direct {
		result.Remove(id)
	}
	e.logger.Debug("friends-of-friends walk",
		zap.Int64("viewer_id", viewerID),
		zap.Int("direct", len(direct)),
		zap.Int("fof", len(result)))
	return result, nil
}

// FriendOfFriendIDs is FriendsOfFriends with the direct set fetched here.
func (e *Engine) FriendOfFriendIDs(ctx context.Context, userID int64) (IDSet, error) {
	return e.FriendsOfFriends(ctx, userID, nil)
}

// Blocked reports whether a block exists in either direction between a
// and b.
func (e *Engine) Blocked(ctx context.Context, a, b int64) (bool, error) {
	blocked, err := e.blocks.BlockExists(ctx, a, b)
	if err != nil {
		return false, lookupErr(fmt.Sprintf("block %d->%d", a, b), err)
	}
	if blocked {
		return true, nil
	}
	blocked, err = e.blocks.BlockExists(ctx, b, a)
	if err != nil {
		return false, lookupErr(fmt.Sprintf("block %d->%d", b, a), err)
	}
	return blocked, nil
}

// Classify resolves the viewer's relationship to the owner. A block in
// either direction classifies as stranger regardless of surviving edges.
func (e *Engine) Classify(ctx context.Context, viewerID, ownerID int64) (Relationship, error) {
	if viewerID == ownerID {
		return RelationshipSelf, nil
	}
	blocked, err := e.Blocked(ctx, viewerID, ownerID)
	if err != nil {
		return "", err
	}
	if blocked {
		return RelationshipStranger, nil
	}
	return e.classifyGraph(ctx, viewerID, ownerID)
}

// classifyGraph walks the friend graph only; callers resolve self and
// blocks first.
func (e *Engine) classifyGraph(ctx context.Context, viewerID, ownerID int64) (Relationship, error) {
	direct, err := e.AcceptedFriendIDs(ctx, viewerID)
	if err != nil {
		return "", err
	}
	if direct.Has(ownerID) {
		return RelationshipDirectFriend, nil
	}
	found, err := e.probeFriendOfFriend(ctx, ownerID, direct)
	if err != nil {
		return "", err
	}
	if found {
		return RelationshipFriendOfFriend, nil
	}
	return RelationshipStranger, nil
}

// probeFriendOfFriend checks whether ownerID sits in any direct friend's
// accepted set. Branches run concurrently and the first hit cancels the
// rest; no full union is materialized.
func (e *Engine) probeFriendOfFriend(ctx context.Context, ownerID int64, direct IDSet) (bool, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fanout)
	for friendID := range direct {
		friendID := friendID
		g.Go(func() error {
			theirs, err := e.AcceptedFriendIDs(gctx, friendID)
			if err != nil {
				return err
			}
			if theirs.Has(ownerID) {
				return errFoundFoF
			}
			return nil
		})
	}
	err := g.Wait()
	switch {
	case errors.Is(err, errFoundFoF):
		return true, nil
	case err != nil:
		return false, err
	}
	return false, nil
}

// CanViewEntry decides entry readability. The block check runs before the
// tier table: a blocked pair is denied even at public tier. Owners always
// see their own entries.
func (e *Engine) CanViewEntry(ctx context.Context, viewerID, ownerID int64, tier Tier) (bool, error) {
	if !tier.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if viewerID == ownerID {
		return true, nil
	}
	blocked, err := e.Blocked(ctx, viewerID, ownerID)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}
	rel, err := e.classifyGraph(ctx, viewerID, ownerID)
	if err != nil {
		return false, err
	}
	return Allows(rel, tier), nil
}

// CanAccessComments gates the comments section. Both gates must pass: the
// entry tier and the effective comments tier, evaluated against one
// classification. Comments can be stricter than the entry, never looser.
func (e *Engine) CanAccessComments(ctx context.Context, viewerID int64, v EntryView) (bool, error) {
	if !v.EntryPrivacy.Valid() {
		return false, fmt.Errorf("%w: entry privacy %q", ErrInvalidTier, v.EntryPrivacy)
	}
	commentsTier := ResolveCommentsPrivacy(v)
	if !commentsTier.Valid() {
		return false, fmt.Errorf("%w: comments privacy %q", ErrInvalidTier, commentsTier)
	}
	if viewerID == v.OwnerID {
		return true, nil
	}
	blocked, err := e.Blocked(ctx, viewerID, v.OwnerID)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}
	rel, err := e.classifyGraph(ctx, viewerID, v.OwnerID)
	if err != nil {
		return false, err
	}
	return Allows(rel, v.EntryPrivacy) && Allows(rel, commentsTier), nil
}

// CanReact decides reaction eligibility: never on own entries, never on
// private entries, otherwise direct friends only. Seeing an entry is not
// enough to react to it.
func (e *Engine) CanReact(ctx context.Context, viewerID, ownerID int64, entryTier Tier) (bool, error) {
	if !entryTier.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidTier, entryTier)
	}
	if viewerID == ownerID {
		return false, nil
	}
	if entryTier == TierPrivate {
		return false, nil
	}
	blocked, err := e.Blocked(ctx, viewerID, ownerID)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}
	rel, err := e.classifyGraph(ctx, viewerID, ownerID)
	if err != nil {
		return false, err
	}
	return rel == RelationshipDirectFriend, nil
}

// VisibleTiersFor returns the tiers of ownerID's content that viewerID may
// list, most open first. Nil means nothing is visible. List queries filter
// by these tiers in SQL instead of re-checking per row.
func (e *Engine) VisibleTiersFor(ctx context.Context, viewerID, ownerID int64) ([]Tier, error) {
	if viewerID == ownerID {
		return append([]Tier(nil), AllTiers...), nil
	}
	blocked, err := e.Blocked(ctx, viewerID, ownerID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, nil
	}
	rel, err := e.classifyGraph(ctx, viewerID, ownerID)
	if err != nil {
		return nil, err
	}
	return TiersFor(rel), nil
}
