package reconcile

import (
	"errors"

	"github.com/templui/healthsync/internal/model"
)

func label(t model.ResourceType) string {
	switch t {
	case model.ResourceSymptom:
		return "Symptom"
	case model.ResourceGoal:
		return "Goal"
	case model.ResourceMood:
		return "Mood entry"
	case model.ResourceMeditation:
		return "Meditation session"
	}
	return "Entry"
}

func pastTense(op model.Operation) string {
	switch op {
	case model.OpInsert:
		return "added"
	case model.OpDelete:
		return "removed"
	}
	return "updated"
}

func failureMessage(err error) string {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, model.ErrTransient):
		return "The server did not respond in time. Please try again."
	case errors.Is(err, model.ErrNotFound):
		return "It no longer exists. It may have been deleted on another device."
	case errors.Is(err, model.ErrConflict):
		return "It conflicts with an existing entry."
	case errors.Is(err, model.ErrPermission):
		return "You do not have access to it."
	}
	return "Something went wrong. Your change was undone."
}
