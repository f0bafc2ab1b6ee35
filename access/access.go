// Package access decides whether a principal may read or write a note. Read access is granted by
// the note's access list; write access belongs to the owner alone.
package access

import md "wuyrush.io/note/models"

// CanRead reports whether principal is on the access list of n.
func CanRead(principal string, n *md.Note) bool {
	if principal == "" || n == nil {
		return false
	}
	for _, p := range n.ACL {
		if p == principal {
			return true
		}
	}
	return false
}

// CanWrite reports whether principal owns n.
func CanWrite(principal string, n *md.Note) bool {
	return principal != "" && n != nil && n.OwnerID == principal
}
