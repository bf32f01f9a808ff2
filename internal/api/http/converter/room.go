package converter

import (
	"time"

	"github.com/immxrtalbeast/meshconf/internal/domain"
)

type ParticipantResponse struct {
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	JoinedAt      time.Time `json:"joined_at"`
}

func MembershipsToApi(members []domain.Membership) []ParticipantResponse {
	result := make([]ParticipantResponse, 0, len(members))
	for _, m := range members {
		result = append(result, ParticipantResponse{
			ParticipantID: m.ParticipantID,
			DisplayName:   m.DisplayName,
			JoinedAt:      m.JoinedAt,
		})
	}
	return result
}
