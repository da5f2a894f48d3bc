package model

// Beneficiary is the slice of the beneficiary record the notification
// jobs need: an identity and a device push token.
type Beneficiary struct {
	ID        string `json:"id"`
	PushToken string `json:"push_token"`
	Structure string `json:"structure"`
}
