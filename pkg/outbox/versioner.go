package outbox

import "context"

// NextVersion computes the next monotonic aggregate version for an entity:
// 1 when the entity has no prior records, highest+1 otherwise.
//
// It must run inside the same transaction as the record it versions, so two
// concurrent writers cannot both observe the same latest version. Stores that
// cannot serialize this read-then-write enforce a uniqueness constraint on
// (entityId, version) instead; a conflict then aborts the transaction and the
// caller retries the whole publish. A version is never silently overwritten.
func NextVersion(ctx context.Context, tx Tx, entityID string) (int64, error) {
	latest, err := tx.LatestVersion(ctx, entityID)
	if err != nil {
		return 0, err
	}
	return latest + 1, nil
}
