package registration

import "strings"

// Reply is the meaning of a user's answer to the confirmation prompt.
type Reply int

const (
	ReplyOther Reply = iota
	ReplyAffirm
	ReplyEdit
)

func (r Reply) String() string {
	switch r {
	case ReplyAffirm:
		return "affirm"
	case ReplyEdit:
		return "edit"
	}
	return "other"
}

// ReplyClassifier interprets a confirmation answer.
type ReplyClassifier func(text string) Reply

var (
	affirmWords = []string{"yes", "да", "confirm", "correct", "верно", "подтвердить"}
	editWords   = []string{"edit", "change", "исправить", "изменить"}
)

// ClassifyConfirmationReply matches the lowercased text against the affirm
// vocabulary, then the edit vocabulary, by substring. Affirm wins when both
// match.
func ClassifyConfirmationReply(text string) Reply {
	t := strings.ToLower(text)
	for _, w := range affirmWords {
		if strings.Contains(t, w) {
			return ReplyAffirm
		}
	}
	for _, w := range editWords {
		if strings.Contains(t, w) {
			return ReplyEdit
		}
	}
	return ReplyOther
}
