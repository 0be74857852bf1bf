package store

import (
	"fmt"

	"github.com/graemester/wgfriend/internal/keys"
	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// Violation describes one integrity-check failure, naming the entity
// and the invariant it breaks, as §4.3 requires ("reports each
// violation", not just the first).
type Violation struct {
	EntityGUID string
	EntityKind model.Kind
	Reason     string
}

// IntegrityCheck verifies invariant #2 (current_public_key ≡
// derive_public(current_private_key)) for every entity across all four
// kinds, and supplements it with a rotation-history continuity check:
// the oldest rotation row's old_public_key must equal permanent_guid,
// since §3 sets current_public_key = permanent_guid at first
// persistence, and every later row's old_public_key must equal its
// predecessor's new_public_key, since rotation history is append-only
// and each rotation starts from the key the previous one ended on.
func (s *Store) IntegrityCheck(csGUID string) ([]Violation, error) {
	var violations []Violation

	checkKeyPair := func(guid string, kind model.Kind, pub, priv string) {
		derived, err := keys.DerivePublic(priv)
		if err != nil {
			violations = append(violations, Violation{guid, kind, fmt.Sprintf("cannot derive public key: %v", err)})
			return
		}
		if derived != pub {
			violations = append(violations, Violation{guid, kind, "current_public_key does not match derive_public(current_private_key)"})
		}
	}

	cs, err := s.FetchCoordinationServer(csGUID)
	if err != nil {
		return nil, err
	}
	checkKeyPair(cs.PermanentGUID, model.KindCoordinationServer, cs.CurrentPublicKey, cs.CurrentPrivateKey)

	srs, err := s.ListSubnetRouters(csGUID)
	if err != nil {
		return nil, err
	}
	for _, sr := range srs {
		checkKeyPair(sr.PermanentGUID, model.KindSubnetRouter, sr.CurrentPublicKey, sr.CurrentPrivateKey)
	}

	remotes, err := s.ListRemotes(csGUID)
	if err != nil {
		return nil, err
	}
	for _, r := range remotes {
		checkKeyPair(r.PermanentGUID, model.KindRemote, r.CurrentPublicKey, r.CurrentPrivateKey)
	}

	exits, err := s.ListExitNodes(csGUID)
	if err != nil {
		return nil, err
	}
	for _, e := range exits {
		checkKeyPair(e.PermanentGUID, model.KindExitNode, e.CurrentPublicKey, e.CurrentPrivateKey)
	}

	allGUIDs := []struct {
		guid string
		kind model.Kind
	}{{cs.PermanentGUID, model.KindCoordinationServer}}
	for _, sr := range srs {
		allGUIDs = append(allGUIDs, struct {
			guid string
			kind model.Kind
		}{sr.PermanentGUID, model.KindSubnetRouter})
	}
	for _, r := range remotes {
		allGUIDs = append(allGUIDs, struct {
			guid string
			kind model.Kind
		}{r.PermanentGUID, model.KindRemote})
	}
	for _, e := range exits {
		allGUIDs = append(allGUIDs, struct {
			guid string
			kind model.Kind
		}{e.PermanentGUID, model.KindExitNode})
	}

	for _, ent := range allGUIDs {
		rotations, err := s.ListRotations(ent.guid)
		if err != nil {
			return nil, err
		}
		if len(rotations) == 0 {
			continue
		}
		if rotations[0].OldPublicKey != ent.guid {
			violations = append(violations, Violation{ent.guid, ent.kind, "rotation history's earliest old_public_key does not match permanent_guid"})
		}
		for i := 1; i < len(rotations); i++ {
			if rotations[i].OldPublicKey != rotations[i-1].NewPublicKey {
				violations = append(violations, Violation{ent.guid, ent.kind, fmt.Sprintf("rotation history broken at row %d: old_public_key does not match predecessor's new_public_key", i)})
			}
		}
	}

	return violations, nil
}

// AsWarnings converts violations into wgerr.Warning values for
// aggregation into an operation result, per §7's recoverable-issue
// propagation policy.
func AsWarnings(violations []Violation) []wgerr.Warning {
	out := make([]wgerr.Warning, 0, len(violations))
	for _, v := range violations {
		out = append(out, wgerr.Warning{Tag: "IntegrityViolation", Message: fmt.Sprintf("%s (%s): %s", v.EntityGUID, v.EntityKind, v.Reason)})
	}
	return out
}
