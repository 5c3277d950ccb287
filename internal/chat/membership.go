package chat

// IsMember reports whether userID is one of the two participants of c.
func IsMember(c *Conversation, userID string) bool {
	if c == nil || userID == "" {
		return false
	}
	return c.ParticipantAID == userID || c.ParticipantBID == userID
}

// OtherParticipant returns the participant that is not userID.
func OtherParticipant(c *Conversation, userID string) string {
	if c.ParticipantAID == userID {
		return c.ParticipantBID
	}
	return c.ParticipantAID
}
