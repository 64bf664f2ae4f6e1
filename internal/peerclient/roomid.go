package peerclient

import (
	petname "github.com/dustinkirkland/golang-petname"
)

// RandomRoomID returns a human-readable room identifier such as
// "sadly-curious-heron". Broadcasters that don't care about the room name
// can use it instead of inventing one.
func RandomRoomID() string {
	return petname.Generate(3, "-")
}
