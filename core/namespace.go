package core

import "fmt"

// Memory domains.
const (
	DomainProfile  = "profile"
	DomainResource = "resource"
)

// Namespace scopes every memory read and write to one tenant and domain.
type Namespace struct {
	AgentID string `json:"agentId"`
	OwnerID string `json:"ownerId"`
	Domain  string `json:"domain"`
}

// Validate returns ErrInvalidNamespace if any component is empty.
func (n Namespace) Validate() error {
	if n.AgentID == "" || n.OwnerID == "" || n.Domain == "" {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, n.String())
	}
	return nil
}

func (n Namespace) String() string {
	return n.AgentID + "/" + n.OwnerID + "/" + n.Domain
}

// Key encodes n so that distinct namespaces never share a key, even when
// ids contain the separator.
func (n Namespace) Key() string {
	return fmt.Sprintf("%d:%s%d:%s%d:%s",
		len(n.AgentID), n.AgentID, len(n.OwnerID), n.OwnerID, len(n.Domain), n.Domain)
}
