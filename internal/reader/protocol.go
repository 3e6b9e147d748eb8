package reader

// Wire tokens.
const (
	CommandRFID = "RFID"

	ResponseNotFound           = "404"
	ResponseVerificationFailed = "FACE_VERIFICATION_FAILED"
)
