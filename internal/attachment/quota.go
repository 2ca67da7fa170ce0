package attachment

import (
	"context"
	"fmt"

	"github.com/diaryx-dev/diaryx-sync/internal/syncerr"
)

// EffectiveLimit returns the remaining bytes userID may upload under
// tierLimit (spec §4.8 "Quota: effective_limit per user is the tier limit
// minus used_bytes").
func (l *Ledger) EffectiveLimit(ctx context.Context, userID string, tierLimit int64) (int64, error) {
	used, err := l.UsedBytes(ctx, userID)
	if err != nil {
		return 0, err
	}
	remaining := tierLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// CheckQuota enforces that newHashBytes (the map of distinct new hash to
// its size, already filtered to hashes userID does not yet own) fits
// within tierLimit, returning *syncerr.QuotaExceeded on breach (spec §4.7
// "enforce per-user attachment quota against the net new bytes...On breach,
// return QuotaExceeded{used, limit, requested}").
func (l *Ledger) CheckQuota(ctx context.Context, userID string, tierLimit int64, newHashBytes map[string]int64) error {
	used, err := l.UsedBytes(ctx, userID)
	if err != nil {
		return err
	}

	var requested int64
	for _, size := range newHashBytes {
		requested += size
	}

	if used+requested > tierLimit {
		return &syncerr.QuotaExceeded{Used: used, Limit: tierLimit, Requested: requested}
	}
	return nil
}

// NetNewBytes filters hashBytes (every distinct hash in an import/upload
// batch mapped to its size) down to the hashes userID does not already own,
// per spec §4.7's "counting each distinct hash at most once and excluding
// hashes the user already owns".
func (l *Ledger) NetNewBytes(ctx context.Context, userID string, hashBytes map[string]int64) (map[string]int64, error) {
	hashes := make([]string, 0, len(hashBytes))
	for h := range hashBytes {
		hashes = append(hashes, h)
	}
	owned, err := l.OwnedHashes(ctx, userID, hashes)
	if err != nil {
		return nil, fmt.Errorf("attachment: computing net-new bytes: %w", err)
	}

	net := make(map[string]int64, len(hashBytes))
	for h, size := range hashBytes {
		if !owned[h] {
			net[h] = size
		}
	}
	return net, nil
}
