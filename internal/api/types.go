package api

import "time"

// User is the backend's user record, used both for the authenticated
// identity and for roster contacts.
type User struct {
	ID        string    `json:"_id"`
	Name      string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"profilePic,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Message is a single conversation message. Text and ImageURL are both
// optional but the backend rejects a message carrying neither.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	ImageURL   string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
}

// AuthResult is the response to login and signup.
type AuthResult struct {
	Message string `json:"message"`
	User    User   `json:"user"`
	Token   string `json:"token"`
}

type checkAuthResponse struct {
	User User `json:"user"`
}

type userListResponse struct {
	Data []User `json:"data"`
}

type messageListResponse struct {
	Messages []Message `json:"messagesList"`
}

type sendMessageResponse struct {
	Message Message `json:"message"`
}

type updateProfileResponse struct {
	Message string `json:"message"`
	User    User   `json:"user"`
}

type errorResponse struct {
	Message string `json:"message"`
}
