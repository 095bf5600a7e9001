package http

const (
	StatusOK        = 200
	StatusCreated   = 201
	StatusNoContent = 204

	StatusBadRequest                  = 400
	StatusNotFound                    = 404
	StatusRequestHeaderFieldsTooLarge = 431

	StatusInternalServerError = 500
	StatusInsufficientStorage = 507
)

var (
	unknownStatusCode = "Unknown Status Code"

	statusMessages = map[int]string{
		StatusOK:        "OK",
		StatusCreated:   "Created",
		StatusNoContent: "No Content",

		StatusBadRequest:                  "Bad Request",
		StatusNotFound:                    "Not Found",
		StatusRequestHeaderFieldsTooLarge: "Request Header Fields Too Large",

		StatusInternalServerError: "Internal Server Error",
		StatusInsufficientStorage: "Insufficient Storage",
	}
)

// StatusText returns a short description for code. The status line itself always carries "NA".
func StatusText(code int) string {
	if message, ok := statusMessages[code]; ok {
		return message
	}

	return unknownStatusCode
}
