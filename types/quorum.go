package types

import "sort"

// RequiredWitnessWeight returns the cumulative witness weight req must
// accumulate under view before its proof freezes. Requests without an
// explicit threshold use the supermajority quorum; XRPL requests may carry a
// percent threshold over their signer subset.
func RequiredWitnessWeight(req *ProofRequest, view *ValidatorSetView) int64 {
	if req.ThresholdPercent > 0 {
		if len(req.SignerSubset) > 0 {
			base := view.SubsetWeight(req.SignerSubset)
			return (base*int64(req.ThresholdPercent) + 99) / 100
		}
		return view.ThresholdWeight(req.ThresholdPercent)
	}
	return view.QuorumWeight()
}

// EligibleWitnessWeight returns the total weight that could ever witness
// req: the subset's weight when one is set, the whole set otherwise.
func EligibleWitnessWeight(req *ProofRequest, view *ValidatorSetView) int64 {
	if len(req.SignerSubset) > 0 {
		return view.SubsetWeight(req.SignerSubset)
	}
	return view.TotalWeight()
}

// AllowsSigner reports whether the validator at index may witness r. An
// empty subset admits every member of the request's set.
func (r *ProofRequest) AllowsSigner(index uint32) bool {
	if len(r.SignerSubset) == 0 {
		return true
	}
	i := sort.Search(len(r.SignerSubset), func(i int) bool {
		return r.SignerSubset[i] >= index
	})
	return i < len(r.SignerSubset) && r.SignerSubset[i] == index
}
