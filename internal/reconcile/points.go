package reconcile

import "context"

// StakeView is one staked token with its display image resolved.
type StakeView struct {
	TokenID       string `json:"tokenId"`
	StartTime     string `json:"startTime"`
	ClaimedPoints string `json:"claimedPoints"`
	Pending       string `json:"pending"`
	Image         string `json:"image"`
}

// PointsView is the reply payload for an on-demand points lookup.
type PointsView struct {
	Address string      `json:"address"`
	Points  string      `json:"points"`
	Stakes  []StakeView `json:"stakes"`
}

// RequestPoints reads the identity's points profile from the points contract
// and resolves a display image for every staked token.
func (s *Service) RequestPoints(ctx context.Context, identity string) (PointsView, error) {
	identity = normalize(identity)
	profile, err := s.src.PointsProfile(ctx, identity)
	if err != nil {
		return PointsView{}, err
	}
	view := PointsView{
		Address: identity,
		Points:  profile.Points,
		Stakes:  make([]StakeView, 0, len(profile.Stakes)),
	}
	for _, st := range profile.Stakes {
		view.Stakes = append(view.Stakes, StakeView{
			TokenID:       st.TokenID,
			StartTime:     st.StartTime,
			ClaimedPoints: st.ClaimedPoints,
			Pending:       st.Pending,
			Image:         s.images.DisplayImage(ctx, st.TokenID),
		})
	}
	return view, nil
}
