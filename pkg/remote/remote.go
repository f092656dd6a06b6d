// Package remote implements the federation client: peer descriptor
// discovery, schema verification, and profile reads / mail writes
// against peer servers. Ids are "citrus" qualified: "<server>@<id>".
package remote

import "strings"

// Schema identifiers peers advertise.
const (
	SchemaProfile = "net.rbeam.structs.Profile"
	SchemaMail    = "net.rbeam.structs.Mail"
)

// CitrusID is a possibly server-qualified id.
type CitrusID string

// Fields splits the id into (server, local id). Unqualified ids return
// an empty server.
func (c CitrusID) Fields() (server, id string) {
	s, local, ok := strings.Cut(string(c), "@")
	if !ok {
		return "", string(c)
	}
	return s, local
}

// IsRemote reports whether the id names another server than self.
func (c CitrusID) IsRemote(self string) bool {
	server, _ := c.Fields()
	return server != "" && server != self
}

// Descriptor describes a peer server.
type Descriptor struct {
	ID      string   `json:"id"`
	Schemas []string `json:"schemas"`
}

// Supports reports whether the peer advertises the schema.
func (d Descriptor) Supports(schema string) bool {
	for _, s := range d.Schemas {
		if s == schema {
			return true
		}
	}
	return false
}
