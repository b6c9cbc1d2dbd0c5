// Package permission maintains the ancillary PermissionRequest and
// QuestionRequest pending queues routed alongside the session/message/part
// event pipeline (§4.5.6).
package permission

import (
	"sync"

	"github.com/opencode-ai/opencode-core/pkg/types"
)

// Reply is the user's response action for a permission or question request.
type Reply string

const (
	ReplyOnce   Reply = "once"
	ReplyAlways Reply = "always"
	ReplyReject Reply = "reject"
)

// Queue holds the insertion-ordered pending PermissionRequest and
// QuestionRequest records for every session. It is the exclusive owner of
// these ancillary records, mirroring the Entity Store's ownership rule for
// Sessions/Messages/Parts (§3.3).
type Queue struct {
	mu sync.Mutex

	permissions map[string]*types.PermissionRequest // requestID -> record
	questions   map[string]*types.QuestionRequest   // requestID -> record

	pendingOrder map[string][]string // sessionID -> ordered requestIDs (both kinds, interleaved by arrival)
}

// NewQueue creates an empty ancillary Queue.
func NewQueue() *Queue {
	return &Queue{
		permissions:  make(map[string]*types.PermissionRequest),
		questions:    make(map[string]*types.QuestionRequest),
		pendingOrder: make(map[string][]string),
	}
}

// AskPermission inserts a new pending PermissionRequest and appends it to
// the session's pending order (§4.5.6 `permission.asked`).
func (q *Queue) AskPermission(req *types.PermissionRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req.Status = types.RequestPending
	q.permissions[req.ID] = req
	q.pendingOrder[req.SessionID] = append(q.pendingOrder[req.SessionID], req.ID)
}

// AskQuestion inserts a new pending QuestionRequest (`question.asked`).
func (q *Queue) AskQuestion(req *types.QuestionRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req.Status = types.RequestPending
	q.questions[req.ID] = req
	q.pendingOrder[req.SessionID] = append(q.pendingOrder[req.SessionID], req.ID)
}

// ReplyPermission resolves a pending PermissionRequest by requestID
// (`permission.replied`). Unknown requestIDs are dropped silently.
func (q *Queue) ReplyPermission(requestID string, reply Reply) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.permissions[requestID]
	if !ok {
		return
	}
	if reply == ReplyReject {
		req.Status = types.RequestDenied
	} else {
		req.Status = types.RequestApproved
	}
	q.removeFromOrderLocked(req.SessionID, requestID)
}

// ReplyQuestion resolves a pending QuestionRequest by requestID
// (`question.replied`).
func (q *Queue) ReplyQuestion(requestID, reply string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.questions[requestID]
	if !ok {
		return
	}
	req.Status = types.RequestAnswered
	req.Reply = reply
	q.removeFromOrderLocked(req.SessionID, requestID)
}

// RejectQuestion resolves a pending QuestionRequest as rejected
// (`question.rejected`).
func (q *Queue) RejectQuestion(requestID, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.questions[requestID]
	if !ok {
		return
	}
	req.Status = types.RequestDenied
	req.Reason = reason
	q.removeFromOrderLocked(req.SessionID, requestID)
}

func (q *Queue) removeFromOrderLocked(sessionID, requestID string) {
	order := q.pendingOrder[sessionID]
	for i, id := range order {
		if id == requestID {
			q.pendingOrder[sessionID] = append(order[:i], order[i+1:]...)
			break
		}
	}
}

// PendingForSession returns the session's PermissionRequests and
// QuestionRequests still pending, in insertion order.
func (q *Queue) PendingForSession(sessionID string) ([]*types.PermissionRequest, []*types.QuestionRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var perms []*types.PermissionRequest
	var questions []*types.QuestionRequest
	for _, id := range q.pendingOrder[sessionID] {
		if p, ok := q.permissions[id]; ok {
			perms = append(perms, p)
		} else if qr, ok := q.questions[id]; ok {
			questions = append(questions, qr)
		}
	}
	return perms, questions
}

// ClearSession forgets every pending record for a session
// (`clearSessionState`, §6.4).
func (q *Queue) ClearSession(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.pendingOrder[sessionID] {
		delete(q.permissions, id)
		delete(q.questions, id)
	}
	delete(q.pendingOrder, sessionID)
}
