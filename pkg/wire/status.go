package wire

// Status is one of the protocol status codes the broker is allowed to answer
// with. Anything outside this set is treated as an internal error when
// encoding a response.
type Status int

const (
	StatusOK                  Status = 200
	StatusNoContent           Status = 204
	StatusBadRequest          Status = 400
	StatusForbidden           Status = 403
	StatusNotFound            Status = 404
	StatusUnprocessableEntity Status = 422
	StatusInternalServerError Status = 500
	StatusNotImplemented      Status = 501
	StatusServiceUnavailable  Status = 503
)

// reasonPhrases maps each valid status to its fixed reason phrase.
var reasonPhrases = map[Status]string{
	StatusOK:                  "OK",
	StatusNoContent:           "NO_CONTENT",
	StatusBadRequest:          "BAD_REQUEST",
	StatusForbidden:           "FORBIDDEN",
	StatusNotFound:            "NOT_FOUND",
	StatusUnprocessableEntity: "UNPROCESSABLE_ENTITY",
	StatusInternalServerError: "INTERNAL_SERVER_ERROR",
	StatusNotImplemented:      "NOT_IMPLEMENTED",
	StatusServiceUnavailable:  "SERVICE_UNAVAILABLE",
}

// Reason returns the fixed reason phrase for the status, or the empty string
// if the status is not part of the protocol.
func (s Status) Reason() string {
	return reasonPhrases[s]
}

// Valid reports whether the status belongs to the protocol's status set.
func (s Status) Valid() bool {
	_, ok := reasonPhrases[s]
	return ok
}

// ContentType identifies the payload type of a response. The set is closed:
// encoding a response with an unknown content type forces a 500 answer with
// an empty body so unintended payloads are never echoed back.
type ContentType int

const (
	ContentText ContentType = iota
	ContentHTML
	ContentCSS
	ContentJS
	ContentJSON
	ContentPNG
	ContentJPEG
)

// mimeTypes maps each valid content type to its MIME string.
var mimeTypes = map[ContentType]string{
	ContentText: "text/plain",
	ContentHTML: "text/html",
	ContentCSS:  "text/css",
	ContentJS:   "application/javascript",
	ContentJSON: "application/json",
	ContentPNG:  "image/png",
	ContentJPEG: "image/jpeg",
}

// MIME returns the MIME string for the content type, or the empty string if
// the content type is not part of the enumerated set.
func (c ContentType) MIME() string {
	return mimeTypes[c]
}

// Valid reports whether the content type belongs to the enumerated set.
func (c ContentType) Valid() bool {
	_, ok := mimeTypes[c]
	return ok
}
