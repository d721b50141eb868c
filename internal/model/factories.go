package model

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

// Fixture constructors used by tests and by cmd/tester. Each accepts an
// optional mutator applied after the fake defaults.

func NewOperator(mutate ...func(*Operator)) *Operator {
	o := &Operator{
		ID:       uint(gofakeit.Number(1, 1_000_000)),
		Username: gofakeit.Username(),
		Role:     "manager",
		FullName: gofakeit.Name(),
		IsActive: true,
	}
	for _, m := range mutate {
		m(o)
	}
	return o
}

func NewBot(mutate ...func(*Bot)) *Bot {
	b := &Bot{
		ID:         uint(gofakeit.Number(1, 1_000_000)),
		Identifier: gofakeit.LetterN(8) + "_bot",
		Name:       gofakeit.Company(),
		ProjectID:  uint(gofakeit.Number(1, 1000)),
		Token:      gofakeit.DigitN(10) + ":" + gofakeit.LetterN(35),
		IsActive:   true,
	}
	for _, m := range mutate {
		m(b)
	}
	return b
}

func NewLead(mutate ...func(*Lead)) *Lead {
	created := utils.Now().Add(-time.Duration(gofakeit.Number(1, 72)) * time.Hour)
	l := &Lead{
		ID:                 uint(gofakeit.Number(1, 1_000_000)),
		TelegramChatID:     gofakeit.Int64()&0x7fffffffff + 1,
		TelegramUsername:   gofakeit.Username(),
		FirstName:          gofakeit.FirstName(),
		LastName:           gofakeit.LastName(),
		BotID:              uint(gofakeit.Number(1, 1000)),
		ProjectID:          uint(gofakeit.Number(1, 1000)),
		AssignedOperatorID: uint(gofakeit.Number(1, 1000)),
		Status:             LeadStatusNew,
		CreatedAt:          created,
		LastUpdatedAt:      created,
	}
	for _, m := range mutate {
		m(l)
	}
	return l
}

// NewStartUpdate builds a Telegram update opening a conversation from chatID.
func NewStartUpdate(chatID int64) Update {
	return newTextUpdate(chatID, StartMarker)
}

// NewTextUpdate builds a follow-up message update. Text is fake when empty.
func NewTextUpdate(chatID int64, text string) Update {
	if text == "" {
		text = gofakeit.Sentence(6)
	}
	return newTextUpdate(chatID, text)
}

func newTextUpdate(chatID int64, text string) Update {
	return Update{
		UpdateID: gofakeit.Int64() & 0x7fffffff,
		Message: &TelegramMessage{
			MessageID: int64(gofakeit.Number(1, 1_000_000)),
			Date:      utils.Now().Unix(),
			Chat:      TelegramChat{ID: chatID, Type: "private"},
			From: &TelegramUser{
				ID:        chatID,
				Username:  gofakeit.Username(),
				FirstName: gofakeit.FirstName(),
				LastName:  gofakeit.LastName(),
			},
			Text: text,
		},
	}
}
