package bus

import "fmt"

// Functionality segments used in topic names.
const (
	FunctionalityTransfer     = "transfer"
	FunctionalityPosition     = "position"
	FunctionalityNotification = "notification"
	FunctionalityFulfil       = "fulfil"
)

// GeneralTopic names the shared topic for a functionality, e.g.
// topic-transfer-fulfil or topic-transfer-notification.
func GeneralTopic(functionality string) string {
	return fmt.Sprintf("topic-transfer-%s", functionality)
}

// ParticipantTopic names a per-participant topic, e.g.
// topic-dfspA-transfer-prepare or topic-dfspA-position-commit.
func ParticipantTopic(participant, functionality, action string) string {
	return fmt.Sprintf("topic-%s-%s-%s", participant, functionality, action)
}

// PrepareTopic names the per-participant transfer prepare topic.
func PrepareTopic(participant string) string {
	return ParticipantTopic(participant, FunctionalityTransfer, "prepare")
}
