package workspace

import (
	"context"
	"fmt"
)

// RecutRequest splits part of a group back to the start of its flowtag.
type RecutRequest struct {
	Name               string
	Flowtag            []string
	FlowtagIndex       int
	FlowtagStatusIndex int
	// Quantity is how many physical parts of the group are recut.
	Quantity  int
	Reason    string
	ChangedBy string
	JobID     *int64
}

// recutReason appends the accountability note to the operator's reason,
// naming the stage the part was pulled from.
func recutReason(reason, changedBy string, flowtag []string, index int) string {
	stage := "an unknown stage"
	if index >= 0 && index < len(flowtag) {
		stage = flowtag[index]
	}
	return fmt.Sprintf("%s\n(%s is responsible for this change. Part was recut at %s)",
		reason, changedBy, stage)
}

// HandleRecut sends part of a group back to flowtag position zero. Only the
// requested quantity of rows is touched; the rest of the group keeps moving.
func (s *Store) HandleRecut(ctx context.Context, req RecutRequest) (int, error) {
	if req.Quantity < 1 {
		return 0, fmt.Errorf("recut quantity must be at least 1")
	}

	reason := recutReason(req.Reason, req.ChangedBy, req.Flowtag, req.FlowtagIndex)
	filter := PartFilter{
		Name:               req.Name,
		Flowtag:            req.Flowtag,
		FlowtagIndex:       &req.FlowtagIndex,
		FlowtagStatusIndex: &req.FlowtagStatusIndex,
		JobID:              req.JobID,
		Limit:              req.Quantity,
	}

	updated, err := s.mutateParts(ctx, filter, req.ChangedBy, func(n *Node) {
		n.FlowtagIndex = 0
		n.FlowtagStatusIndex = 0
		n.IsTiming = false
		n.Recut = true
		n.RecutCount++
		appendRecutReason(n, reason)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recut %q: %w", req.Name, err)
	}
	if updated == 0 {
		return 0, ErrNotFound
	}
	if updated < req.Quantity {
		s.logger.Warnf("Recut of %q asked for %d parts but only %d matched", req.Name, req.Quantity, updated)
	}
	return updated, nil
}

// RecutFinishedRequest rejoins recut parts to the position their group
// reached while they were being redone.
type RecutFinishedRequest struct {
	Name               string
	Flowtag            []string
	FlowtagIndex       int
	FlowtagStatusIndex int
	ChangedBy          string
	JobID              *int64
}

// HandleRecutFinished clears the recut flag and moves the parts to the
// given flowtag position.
func (s *Store) HandleRecutFinished(ctx context.Context, req RecutFinishedRequest) (int, error) {
	filter := PartFilter{
		Name:      req.Name,
		Flowtag:   req.Flowtag,
		JobID:     req.JobID,
		RecutOnly: true,
	}

	updated, err := s.mutateParts(ctx, filter, req.ChangedBy, func(n *Node) {
		n.FlowtagIndex = req.FlowtagIndex
		n.FlowtagStatusIndex = req.FlowtagStatusIndex
		n.Recut = false
	})
	if err != nil {
		return 0, fmt.Errorf("failed to finish recut of %q: %w", req.Name, err)
	}
	if updated == 0 {
		return 0, ErrNotFound
	}
	return updated, nil
}

// appendRecutReason records the reason on the part document so the journal
// and any later review can see why the part went back.
func appendRecutReason(n *Node, reason string) {
	if n.Data == nil {
		n.Data = Document{}
	}
	ws, _ := n.Data["workspace_data"].(map[string]interface{})
	if ws == nil {
		ws = map[string]interface{}{}
		n.Data["workspace_data"] = ws
	}

	reasons, _ := ws["recut_reasons"].([]interface{})
	ws["recut_reasons"] = append(reasons, reason)
}
