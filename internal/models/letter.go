package models

import "time"

// Letter is a message addressed by a caller-chosen secret code. It lives until
// Expires and accepts at most one Reply.
type Letter struct {
	ID         string    `json:"id" bson:"_id"`
	SecretCode string    `json:"secretCode" bson:"secretCode"`
	From       string    `json:"from" bson:"from"`
	To         string    `json:"to" bson:"to"`
	Text       string    `json:"text" bson:"text"`
	Signature  string    `json:"signature" bson:"signature"`
	Image      string    `json:"image,omitempty" bson:"image,omitempty"` // base64 / data URL
	Sent       time.Time `json:"sent" bson:"sent"`
	Expires    time.Time `json:"expires" bson:"expires"`
	HasReply   bool      `json:"hasReply" bson:"hasReply"`
	Reply      *Reply    `json:"reply,omitempty" bson:"reply,omitempty"`
}

type Reply struct {
	Text      string    `json:"text" bson:"text"`
	Signature string    `json:"signature" bson:"signature"`
	Image     string    `json:"image,omitempty" bson:"image,omitempty"`
	Sent      time.Time `json:"sent" bson:"sent"`
}

// Expired reports whether the letter is dead at now.
func (l *Letter) Expired(now time.Time) bool {
	return now.After(l.Expires)
}
