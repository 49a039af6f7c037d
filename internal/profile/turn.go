package profile

import "time"

// Turn records one registration exchange for auditing. The dialogue never
// reads turns back.
type Turn struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	StepBefore Step      `json:"stepBefore"`
	StepAfter  Step      `json:"stepAfter"`
	UserText   string    `json:"userText"`
	Reply      string    `json:"reply"`
	Extracted  []Field   `json:"extracted"`
	CreatedAt  time.Time `json:"createdAt"`
}
