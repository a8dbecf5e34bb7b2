package chessproto

// Stable error codes sent in ErrorFrame.Code.
const (
	CodeNotAuthenticated  = "not_authenticated"
	CodeAuthFailed        = "auth_failed"
	CodeBadRequest        = "bad_request"
	CodeUnknownType       = "unknown_type"
	CodeMatchExists       = "match_exists"
	CodeMatchNotFound     = "match_not_found"
	CodeMatchFull         = "match_full"
	CodeMatchClosed       = "match_closed"
	CodeSeatsIncomplete   = "seats_incomplete"
	CodeNotSeated         = "not_seated"
	CodeInvalidTransition = "invalid_transition"
	CodeMatchNotActive    = "match_not_active"
	CodeNotYourTurn       = "not_your_turn"
	CodeIllegalMove       = "illegal_move"
	CodeInternal          = "internal"
)

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "chess server error"
}

// Frame converts the error into an outbound frame for requestID.
func (e DomainError) Frame(requestID string) ErrorFrame {
	return ErrorFrame{Type: KindError, RequestID: requestID, Error: e.Error(), Code: e.Code}
}
