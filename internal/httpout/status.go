package httpout

import "strconv"

// Status is an HTTP status code.
type Status int

// Status codes emitted by the repository.
const (
	StatusOK                  Status = 200
	StatusMovedPermanently    Status = 301
	StatusBadRequest          Status = 400
	StatusUnauthorized        Status = 401
	StatusForbidden           Status = 403
	StatusNotFound            Status = 404
	StatusMethodNotAllowed    Status = 405
	StatusConflict            Status = 409
	StatusInternalServerError Status = 500
	StatusNotImplemented      Status = 501
	StatusServiceUnavailable  Status = 503
)

var reasons = map[Status]string{
	StatusOK:                  "OK",
	StatusMovedPermanently:    "Moved Permanently",
	StatusBadRequest:          "Bad Request",
	StatusUnauthorized:        "Unauthorized",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusMethodNotAllowed:    "Method Not Allowed",
	StatusConflict:            "Conflict",
	StatusInternalServerError: "Internal Server Error",
	StatusNotImplemented:      "Not Implemented",
	StatusServiceUnavailable:  "Service Unavailable",
}

// Reason returns the reason phrase of the status line.
func (s Status) Reason() string {
	if r, ok := reasons[s]; ok {
		return r
	}
	return "Status " + strconv.Itoa(int(s))
}

// statusLine renders "HTTP/1.1 <code> <reason>\r\n".
func (s Status) statusLine() string {
	return "HTTP/1.1 " + strconv.Itoa(int(s)) + " " + s.Reason() + "\r\n"
}
