package bsoncore

import (
	"crypto/rand"
	"sync/atomic"
	"time"
)

var objectIDCounter = newObjectIDCounter()
var processUnique = newProcessUnique()

func newObjectIDCounter() uint32 {
	var b [3]byte
	_, _ = rand.Read(b[:])
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func newProcessUnique() [5]byte {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return b
}

// NewObjectID generates a new, globally-unique 12-byte ObjectID: a 4-byte
// Unix timestamp, a 5-byte process-unique value, and a 3-byte incrementing
// counter. This is the same layout the driver family uses for auto-assigned
// document _id fields on insert.
func NewObjectID() [12]byte {
	var id [12]byte

	t := uint32(time.Now().Unix())
	id[0], id[1], id[2], id[3] = byte(t>>24), byte(t>>16), byte(t>>8), byte(t)

	copy(id[4:9], processUnique[:])

	c := atomic.AddUint32(&objectIDCounter, 1)
	id[9], id[10], id[11] = byte(c>>16), byte(c>>8), byte(c)

	return id
}
