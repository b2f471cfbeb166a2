package wallet

import (
	"errors"
	"sort"

	"github.com/ecashapp/satchel/cashu"
)

var ErrInsufficientFunds = errors.New("not enough funds")

// SelectProofs picks a set of proofs covering the target amount.
// Proofs are taken largest first (ties keep the caller's order) until
// the running sum covers the target, so the selection can overshoot.
// It returns the selected proofs and the overshoot remainder. It does
// not look for an exact-sum subset: for proofs [8,4,2,1] and target 11
// the selection is [8,4] with remainder 1, not [8,2,1].
//
// The input slice is not modified and no storage is touched; committing
// the removal of selected proofs is the caller's job.
func SelectProofs(proofs cashu.Proofs, target uint64) (cashu.Proofs, uint64, error) {
	sorted := make(cashu.Proofs, len(proofs))
	copy(sorted, proofs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount > sorted[j].Amount
	})

	selected := cashu.Proofs{}
	var selectedAmount uint64 = 0
	for _, proof := range sorted {
		if selectedAmount >= target {
			break
		}
		selected = append(selected, proof)
		selectedAmount += proof.Amount
	}

	if selectedAmount < target {
		return nil, 0, ErrInsufficientFunds
	}

	return selected, selectedAmount - target, nil
}
