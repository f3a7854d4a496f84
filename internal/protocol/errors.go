package protocol

// ErrorCode is the machine-readable reason carried by an error event.
type ErrorCode string

const (
	CodeInvalidCode   ErrorCode = "InvalidCode"
	CodeRoomExists    ErrorCode = "RoomExists"
	CodeRoomNotFound  ErrorCode = "RoomNotFound"
	CodeAlreadyInRoom ErrorCode = "AlreadyInRoom"
	CodeUnauthorized  ErrorCode = "Unauthorized"
	CodePeerNotFound  ErrorCode = "PeerNotFound"
	CodeNotInRoom     ErrorCode = "NotInRoom"
	CodeRateLimited   ErrorCode = "RateLimited"
)

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Code    ErrorCode `json:"code" msgpack:"code"`
	Message string    `json:"message" msgpack:"message"`
}

func (e *ErrorPayload) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewError builds an error event.
func NewError(code ErrorCode, message string) *Message {
	return &Message{
		Type:  TypeError,
		Error: &ErrorPayload{Code: code, Message: message},
	}
}
