package wsengine

import "strconv"

// Role is the side of the connection an endpoint plays.
// It decides which frames must be masked.
// See https://tools.ietf.org/html/rfc6455#section-5.3
type Role int

// Role constants.
const (
	// RoleClient masks every frame it sends and
	// rejects masked frames from the server.
	RoleClient Role = iota
	// RoleServer never masks and rejects unmasked
	// frames from the client.
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	}
	return "Role(" + strconv.Itoa(int(r)) + ")"
}

// masksOutbound reports whether frames written by r carry a mask.
func (r Role) masksOutbound() bool {
	return r == RoleClient
}

// expectsMasked reports whether frames read by r must carry a mask.
func (r Role) expectsMasked() bool {
	return r == RoleServer
}
