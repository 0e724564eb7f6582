package records

import (
	"github.com/google/uuid"
)

var idSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:uploadcore:record"))

// NewID derives a stable name-based id for r from the device id, the record
// type and its identity.
func NewID(deviceID string, r Record) string {
	b := r.Header()
	name := deviceID + "|" + b.Type + "|" + b.SubType + "|" + b.Identity.String()
	return uuid.NewSHA1(idSpace, []byte(name)).String()
}
