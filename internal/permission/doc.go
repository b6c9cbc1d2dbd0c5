// Package permission tracks PermissionRequest and QuestionRequest records
// raised mid-turn by the server and resolved by the user.
//
// # Overview
//
// Both request kinds are ancillary records that ride the same event
// pipeline as sessions/messages/parts, but are not part of the Entity
// Store: they never participate in FK invariants or reconciliation.
// Each session maintains a single insertion-ordered pending queue
// interleaving both kinds, so a UI layer can render them in arrival order.
//
//	q := permission.NewQueue()
//	q.AskPermission(&types.PermissionRequest{ID: "r1", SessionID: "s1", Permission: "edit"})
//	perms, questions := q.PendingForSession("s1")
//
// Resolution is always by requestID; unknown requestIDs are dropped
// rather than erroring, since a reply racing a session clear is expected
// rather than exceptional.
//
//	q.ReplyPermission("r1", permission.ReplyOnce)
package permission
