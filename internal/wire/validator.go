package wire

import (
	"encoding/json"
	"fmt"
	"math"
)

// ValidationResult is the explicit result type returned by Validate — the
// Router never uses panics/errors for this control flow (§9 design note).
type ValidationResult struct {
	OK     bool
	Reason string
}

func ok() ValidationResult { return ValidationResult{OK: true} }

func reject(reason string) ValidationResult {
	return ValidationResult{OK: false, Reason: reason}
}

// ValidationError is an error-valued form of a validation failure's
// reason. Validate itself does not return it; it reports rejections
// through ValidationResult.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validate performs structural validation of one envelope against the
// typed schema in §6.1 and the envelope requirements in §4.1.
func Validate(e *Envelope) ValidationResult {
	if e == nil {
		return reject("nil envelope")
	}
	if e.Type == "" {
		return reject("missing type")
	}
	if e.EventID == "" {
		return reject("missing eventId")
	}
	if e.Sequence == nil || !isFiniteNonNegative(*e.Sequence) {
		return reject("sequence must be a finite non-negative integer")
	}
	if e.Timestamp == nil || !isFiniteNonNegative(*e.Timestamp) {
		return reject("timestamp must be a finite non-negative integer")
	}

	switch e.Type {
	case ServerConnected, ServerHeartbeat:
		return ok()
	case SessionCreated:
		return validateProps[SessionCreatedProps](e, func(p SessionCreatedProps) string {
			if p.SessionID == "" {
				return "session.created requires sessionID"
			}
			return ""
		})
	case SessionUpdated:
		return validateProps[SessionUpdatedProps](e, func(p SessionUpdatedProps) string {
			if p.SessionID == "" {
				return "session.updated requires sessionID"
			}
			return ""
		})
	case SessionStatusType:
		return validateProps[SessionStatusProps](e, func(p SessionStatusProps) string {
			if p.SessionID == "" {
				return "session.status requires sessionID"
			}
			if p.Status.Kind == "" {
				return "session.status requires status.type"
			}
			return ""
		})
	case SessionDeleted:
		return validateProps[SessionDeletedProps](e, func(p SessionDeletedProps) string {
			if p.SessionID == "" {
				return "session.deleted requires sessionID"
			}
			return ""
		})
	case SessionDiff:
		return validateProps[SessionDiffProps](e, func(p SessionDiffProps) string {
			if p.SessionID == "" {
				return "session.diff requires sessionID"
			}
			return ""
		})
	case MessageUpdated:
		return validateProps[MessageUpdatedProps](e, func(p MessageUpdatedProps) string {
			if p.Info.ID == "" {
				return "message.updated requires info.id"
			}
			if p.Info.Role == "" {
				return "message.updated requires info.role"
			}
			return ""
		})
	case MessageRemoved:
		return validateProps[MessageRemovedProps](e, func(p MessageRemovedProps) string {
			if p.MessageID == "" {
				return "message.removed requires messageID"
			}
			return ""
		})
	case PartUpdated:
		return validateProps[PartUpdatedProps](e, func(p PartUpdatedProps) string {
			if p.Part.ID == "" || p.Part.MessageID == "" || p.Part.SessionID == "" {
				return "message.part.updated requires part.id, part.messageID, part.sessionID"
			}
			return ""
		})
	case PartRemoved:
		return validateProps[PartRemovedProps](e, func(p PartRemovedProps) string {
			if p.PartID == "" || p.MessageID == "" {
				return "message.part.removed requires partID and messageID"
			}
			return ""
		})
	case PermissionAsked:
		return validateProps[PermissionAskedProps](e, func(p PermissionAskedProps) string {
			if p.ID == "" || p.SessionID == "" {
				return "permission.asked requires id and sessionID"
			}
			return ""
		})
	case PermissionReplied:
		return validateProps[PermissionRepliedProps](e, func(p PermissionRepliedProps) string {
			if p.SessionID == "" || p.RequestID == "" {
				return "permission.replied requires sessionID and requestID"
			}
			return ""
		})
	case QuestionAsked:
		return validateProps[QuestionAskedProps](e, func(p QuestionAskedProps) string {
			if p.ID == "" || p.SessionID == "" {
				return "question.asked requires id and sessionID"
			}
			return ""
		})
	case QuestionReplied:
		return validateProps[QuestionRepliedProps](e, func(p QuestionRepliedProps) string {
			if p.SessionID == "" || p.RequestID == "" {
				return "question.replied requires sessionID and requestID"
			}
			return ""
		})
	case QuestionRejected:
		return validateProps[QuestionRejectedProps](e, func(p QuestionRejectedProps) string {
			if p.SessionID == "" || p.RequestID == "" {
				return "question.rejected requires sessionID and requestID"
			}
			return ""
		})
	case FileEdited:
		return validateProps[FileEditedProps](e, func(p FileEditedProps) string {
			if p.File == "" {
				return "file.edited requires file"
			}
			return ""
		})
	default:
		// Unknown types pass through (§4.5.7, §6.1 forward-compat).
		return ok()
	}
}

func validateProps[P any](e *Envelope, check func(P) string) ValidationResult {
	var p P
	if len(e.Properties) > 0 {
		if err := json.Unmarshal(e.Properties, &p); err != nil {
			return reject(fmt.Sprintf("malformed properties: %v", err))
		}
	}
	if reason := check(p); reason != "" {
		return reject(reason)
	}
	return ok()
}

func isFiniteNonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0 && f == math.Trunc(f)
}
