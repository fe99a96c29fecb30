package services

import (
	"errors"

	"github.com/pointid/mission-gateway/internal/graphql"
	"github.com/pointid/mission-gateway/internal/session"
)

// Store errors. They are returned before anything is sent upstream.
var (
	ErrActionNotAllowed   = errors.New("action not available for this mission and role")
	ErrInvalidTransition  = errors.New("invalid sub-mission status transition")
	ErrAlreadyRated       = errors.New("mission already rated")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrMissionNotFound    = errors.New("mission not found")
	ErrSubMissionNotFound = errors.New("sub-mission not found")
	ErrEmptyMessage       = errors.New("message content is empty")
	ErrEmptyComment       = errors.New("comment content is empty")
	ErrNoFile             = errors.New("no file to upload")
)

// userMessage extends graphql.UserMessage with the store's own errors.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrActionNotAllowed):
		return "Action non disponible pour cette mission"
	case errors.Is(err, ErrInvalidTransition):
		return "Changement de statut non autorisé"
	case errors.Is(err, ErrAlreadyRated):
		return "Cette mission a déjà été évaluée"
	case errors.Is(err, ErrInvalidRating):
		return "La note doit être comprise entre 1 et 5"
	case errors.Is(err, ErrMissionNotFound), errors.Is(err, ErrSubMissionNotFound):
		return "Mission introuvable"
	case errors.Is(err, ErrEmptyMessage):
		return "Le message est vide"
	case errors.Is(err, ErrEmptyComment):
		return "Le commentaire est vide"
	case errors.Is(err, ErrNoFile):
		return "Aucun fichier sélectionné"
	case errors.Is(err, session.ErrNoSession):
		return "Session expirée, veuillez vous reconnecter"
	}
	return graphql.UserMessage(err)
}

// UserMessage returns the toast text for err
func UserMessage(err error) string { return userMessage(err) }

// ErrorKind classifies err for the HTTP layer. Store errors map onto the
// transport kinds they behave like.
func ErrorKind(err error) graphql.Kind {
	switch {
	case errors.Is(err, ErrActionNotAllowed), errors.Is(err, ErrInvalidTransition):
		return graphql.KindForbidden
	case errors.Is(err, ErrAlreadyRated), errors.Is(err, ErrInvalidRating),
		errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrEmptyComment), errors.Is(err, ErrNoFile):
		return graphql.KindBadUserInput
	case errors.Is(err, ErrMissionNotFound), errors.Is(err, ErrSubMissionNotFound):
		return graphql.KindNotFound
	case errors.Is(err, session.ErrNoSession):
		return graphql.KindUnauthenticated
	}
	return graphql.Classify(err)
}
