package models

import "strconv"

// PersonalRoom names the room reaching every live connection of one user.
func PersonalRoom(userID int) string {
	return "user:" + strconv.Itoa(userID)
}

// ConversationRoom names the room for connections viewing a conversation.
func ConversationRoom(conversationID int) string {
	return "conversation:" + strconv.Itoa(conversationID)
}
