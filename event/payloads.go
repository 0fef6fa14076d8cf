package event

import "time"

// Notification is an in-app notification for the badge counter.
type Notification struct {
	NotificationID string `json:"notificationId"`
	Title          string `json:"title"`
	Body           string `json:"body,omitempty"`
	Link           string `json:"link,omitempty"`
}

func (*Notification) EventType() Type { return TypeNotification }

// ChatMessage is a new message in a conversation the target takes part in.
type ChatMessage struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sentAt"`
}

func (*ChatMessage) EventType() Type { return TypeChatMessage }

// ChatUnread carries the absolute unread count of a conversation.
type ChatUnread struct {
	ConversationID string `json:"conversationId"`
	Count          int    `json:"count"`
}

func (*ChatUnread) EventType() Type { return TypeChatUnread }

// BookingStatus mirrors the appointment lifecycle of the booking flow.
type BookingStatus string

const (
	BookingScheduled BookingStatus = "SCHEDULED"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingNoShow    BookingStatus = "NO_SHOW"
)

// BookingUpdate reports a status change of an appointment.
type BookingUpdate struct {
	BookingID   string        `json:"bookingId"`
	Status      BookingStatus `json:"status"`
	BarberID    string        `json:"barberId,omitempty"`
	ServiceName string        `json:"serviceName,omitempty"`
	StartsAt    time.Time     `json:"startsAt"`
}

func (*BookingUpdate) EventType() Type { return TypeBookingUpdated }

// FriendRequest is a social request sent to, or answered by, the target.
type FriendRequest struct {
	RequestID  string `json:"requestId"`
	FromUserID string `json:"fromUserId"`
	FromName   string `json:"fromName,omitempty"`
	// Status is one of PENDING, ACCEPTED, REJECTED.
	Status string `json:"status"`
}

func (*FriendRequest) EventType() Type { return TypeFriendRequest }

// ReviewCreated announces a new review for a barber.
type ReviewCreated struct {
	ReviewID string `json:"reviewId"`
	BarberID string `json:"barberId"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment,omitempty"`
}

func (*ReviewCreated) EventType() Type { return TypeReviewCreated }

// Presence reports a user going online or offline.
type Presence struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

func (*Presence) EventType() Type { return TypePresence }
