package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/element"
	"github.com/mattfrayser/whiteboard-sync/internal/middleware"
	"github.com/mattfrayser/whiteboard-sync/internal/room"
	"github.com/mattfrayser/whiteboard-sync/internal/user"
)

const saveTimeout = 10 * time.Second

// ElementHandler: handles board edits (element changes, scenes, app state, saves)
type ElementHandler struct {
	validator   *element.Validator
	limits      *middleware.Limits
	broadcaster Broadcaster
	saver       Saver
}

func NewElementHandler(validator *element.Validator, limits *middleware.Limits, broadcaster Broadcaster, saver Saver) *ElementHandler {
	return &ElementHandler{
		validator:   validator,
		limits:      limits,
		broadcaster: broadcaster,
		saver:       saver,
	}
}

func (h *ElementHandler) checkElement(el *element.Element) error {
	if err := h.limits.ValidateObjectComplexity(el.Data); err != nil {
		return fmt.Errorf("element %q: %w", el.ID, err)
	}
	if err := h.validator.ValidateElement(el); err != nil {
		return fmt.Errorf("element %q: %w", el.ID, err)
	}
	return nil
}

// HandleChanges: merges a batch of element changes into the room. Accepted
// changes go to everyone else; the sender gets the room's element back for
// every change that lost.
func (h *ElementHandler) HandleChanges(rm *room.Room, u *user.User, raw []byte) error {
	if !u.Session.ElementLimiter.Allow() {
		return ErrRateLimited
	}

	var msg ElementsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode elements message: %w", err)
	}
	if len(msg.Changes) == 0 {
		return nil
	}
	if err := h.limits.ValidateBatchSize(len(msg.Changes)); err != nil {
		return err
	}

	for i := range msg.Changes {
		if err := h.validator.ValidateChange(&msg.Changes[i]); err != nil {
			return fmt.Errorf("element %q: %w", msg.Changes[i].Element.ID, err)
		}
		if err := h.limits.ValidateObjectComplexity(msg.Changes[i].Element.Data); err != nil {
			return fmt.Errorf("element %q: %w", msg.Changes[i].Element.ID, err)
		}
	}

	changes := element.Dedupe(msg.Changes)
	if !h.limits.CanAddElements(rm, rm.NewElementCount(changes)) {
		return ErrRoomAtCapacity
	}

	accepted, rejected := rm.ApplyChanges(changes)
	if len(rejected) > 0 {
		if err := h.sendCorrections(rm, u, rejected); err != nil {
			return err
		}
	}
	if len(accepted) == 0 {
		return nil
	}

	h.saver.Schedule(rm.Code)
	return h.broadcaster.BroadcastJSON(rm, ElementsMessage{
		Type:    TypeElements,
		UserID:  u.ID,
		Changes: accepted,
	}, u.ConnID)
}

func (h *ElementHandler) sendCorrections(rm *room.Room, u *user.User, rejected []element.Change) error {
	corrections := make([]element.Change, 0, len(rejected))
	for _, ch := range rejected {
		current, ok := rm.Element(ch.Element.ID)
		if !ok {
			continue
		}
		kind := element.Updated
		if current.IsDeleted {
			kind = element.Removed
		}
		corrections = append(corrections, element.Change{Kind: kind, Element: current})
	}
	if len(corrections) == 0 {
		return nil
	}
	return u.WriteJSON(ElementsMessage{Type: TypeElements, Changes: corrections})
}

// HandleScene: reconciles a client's full element list with the room
func (h *ElementHandler) HandleScene(rm *room.Room, u *user.User, raw []byte) error {
	if !u.Session.ElementLimiter.Allow() {
		return ErrRateLimited
	}

	var msg SceneMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode scene message: %w", err)
	}
	if err := h.limits.ValidateBatchSize(len(msg.Elements)); err != nil {
		return err
	}

	changes := make([]element.Change, 0, len(msg.Elements))
	for i := range msg.Elements {
		if err := h.checkElement(&msg.Elements[i]); err != nil {
			return err
		}
		changes = append(changes, element.Change{Kind: element.Added, Element: msg.Elements[i]})
	}
	if !h.limits.CanAddElements(rm, rm.NewElementCount(changes)) {
		return ErrRoomAtCapacity
	}

	accepted := rm.ReconcileScene(msg.Elements)
	if len(accepted) == 0 {
		return nil
	}

	h.saver.Schedule(rm.Code)
	return h.broadcaster.BroadcastJSON(rm, ElementsMessage{
		Type:    TypeElements,
		UserID:  u.ID,
		Changes: accepted,
	}, u.ConnID)
}

// HandleAppState: updates the shared background color and grid
func (h *ElementHandler) HandleAppState(rm *room.Room, u *user.User, raw []byte) error {
	var msg AppStateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode app state message: %w", err)
	}
	if err := h.validator.ValidateStruct(&msg.AppState); err != nil {
		return fmt.Errorf("app state: %w", err)
	}
	if err := h.validator.CheckText("viewBackgroundColor", msg.AppState.ViewBackgroundColor); err != nil {
		return fmt.Errorf("app state: %w", err)
	}

	rm.SetAppState(msg.AppState)
	h.saver.Schedule(rm.Code)

	msg.Type = TypeAppState
	msg.UserID = u.ID
	return h.broadcaster.BroadcastJSON(rm, msg, u.ConnID)
}

// HandleSave: saves the board now instead of waiting for the debounce
func (h *ElementHandler) HandleSave(ctx context.Context, rm *room.Room, u *user.User) error {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	if err := h.saver.SaveNow(ctx, rm.Code); err != nil {
		return fmt.Errorf("save board: %w", err)
	}
	return u.WriteJSON(envelope{Type: TypeSaved})
}
