// Package board mirrors assignments onto a task board.
package board

import (
	"context"
	"errors"
	"time"
)

// ErrListNotFound is returned when the board has no list for a course.
var ErrListNotFound = errors.New("list not found")

// Card is the desired state of one assignment card.
type Card struct {
	// List is the name of the list, one per course.
	List string
	// Title identifies the card within its list.
	Title     string
	Due       time.Time
	Completed bool
}

// Board creates or updates cards. Cards are matched by title within a list.
// Completed or past-due cards that do not exist yet are not created.
type Board interface {
	UpsertCard(ctx context.Context, card Card) error
}
